//go:build linux

package horch

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/hstor/hrun/pkg/hlog"
)

// bindWorkerCPU pins worker i to core i%NumCPU, the default process
// scheduler policy. Binding is best-effort: a container without CAP_SYS_NICE (or a
// cgroup cpuset restriction) returns an error here, which is logged and
// otherwise ignored rather than treated as fatal, since affinity is a
// scheduling hint, not a correctness requirement.
func bindWorkerCPU(workerIdx int, log *hlog.Logger) {
	n := runtime.NumCPU()
	if n <= 0 {
		return
	}
	var set unix.CPUSet
	set.Set(workerIdx % n)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Debugw("horch: cpu affinity bind failed, continuing unpinned", "worker", workerIdx, "err", err)
	}
}
