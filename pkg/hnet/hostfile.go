// Package hnet implements host-file parsing and local node resolution: a
// plain-text list of hostnames, one per line, NodeId assigned as the
// 1-based line index; the node whose IP matches one of its own local
// interfaces determines its own NodeId at startup.
package hnet

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
)

// HostFile is the parsed, 1-indexed host list plus a watcher that reloads
// it on change so a runtime can pick up topology edits without a
// restart.
type HostFile struct {
	path string
	log  *hlog.Logger

	mu    sync.RWMutex
	hosts []string // hosts[0] is NodeId 1

	watcher  *fsnotify.Watcher
	onReload func([]string)
}

// Load parses a host file: one hostname per line, blank lines and lines
// starting with '#' ignored.
func Load(path string, log *hlog.Logger) (*HostFile, error) {
	hosts, err := parseHostFile(path)
	if err != nil {
		return nil, err
	}
	return &HostFile{path: path, log: log, hosts: hosts}, nil
}

func parseHostFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hnet: open host file %s: %w", path, err)
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hnet: read host file %s: %w", path, err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("hnet: host file %s has no entries", path)
	}
	return hosts, nil
}

// Hosts returns a snapshot of the current host list, index 0 being
// NodeId 1.
func (h *HostFile) Hosts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.hosts))
	copy(out, h.hosts)
	return out
}

// HostOf returns the hostname for a NodeId, per the 1-based indexing
// convention.
func (h *HostFile) HostOf(n hids.NodeId) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx := int(n) - 1
	if idx < 0 || idx >= len(h.hosts) {
		return "", false
	}
	return h.hosts[idx], true
}

// NumNodes returns the cluster size.
func (h *HostFile) NumNodes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hosts)
}

// OnReload registers a callback invoked with the new host list whenever
// Watch picks up a file change.
func (h *HostFile) OnReload(fn func([]string)) { h.onReload = fn }

// Watch starts an fsnotify watch on the host file's path, reloading and
// invoking the OnReload callback on every write. The
// watcher runs until Close is called.
func (h *HostFile) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hnet: new watcher: %w", err)
	}
	if err := w.Add(h.path); err != nil {
		w.Close()
		return fmt.Errorf("hnet: watch host file %s: %w", h.path, err)
	}
	h.watcher = w
	go h.watchLoop()
	return nil
}

func (h *HostFile) watchLoop() {
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			hosts, err := parseHostFile(h.path)
			if err != nil {
				if h.log != nil {
					h.log.Errorw("hnet: reload host file failed", "err", err)
				}
				continue
			}
			h.mu.Lock()
			h.hosts = hosts
			h.mu.Unlock()
			if h.onReload != nil {
				h.onReload(hosts)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			if h.log != nil {
				h.log.Errorw("hnet: host file watch error", "err", err)
			}
		}
	}
}

// Close stops the watcher, if one was started.
func (h *HostFile) Close() error {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}
