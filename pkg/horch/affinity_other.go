//go:build !linux

package horch

import "github.com/hstor/hrun/pkg/hlog"

// bindWorkerCPU is a no-op outside Linux; sched_setaffinity has no portable
// equivalent, and CPU pinning is a scheduling hint, not a correctness
// requirement.
func bindWorkerCPU(workerIdx int, log *hlog.Logger) {
	log.Debugw("horch: cpu affinity binding unsupported on this platform", "worker", workerIdx)
}
