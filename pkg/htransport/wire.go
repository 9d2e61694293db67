package htransport

import (
	"encoding/gob"
	"io"
)

// writeGob and readGob frame one request or response per call: gob's wire
// format is self-delimiting, so a single Encode/Decode pair is enough for
// the one-shot request/response streams PushSmall/PushBulk open, without
// needing a manual length prefix.
func writeGob(w io.Writer, v any) error {
	return gob.NewEncoder(w).Encode(v)
}

func readGob(r io.Reader, v any) error {
	return gob.NewDecoder(r).Decode(v)
}
