package hlog

import "os"

func newStderr() *os.File { return os.Stderr }
