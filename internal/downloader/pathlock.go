package downloader

import (
	"path/filepath"
	"sync"
)

// PathLocks tracks which target paths have a download writing to them.
type PathLocks struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func NewPathLocks() *PathLocks {
	return &PathLocks{paths: make(map[string]struct{})}
}

// lockKey resolves path to the absolute form used as download identity.
func lockKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	return abs
}

// TryAcquire claims path and reports whether it was free.
func (l *PathLocks) TryAcquire(path string) bool {
	key := lockKey(path)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.paths[key]; held {
		return false
	}

	l.paths[key] = struct{}{}

	return true
}

func (l *PathLocks) Release(path string) {
	l.mu.Lock()
	delete(l.paths, lockKey(path))
	l.mu.Unlock()
}

// Held reports whether a download currently owns path.
func (l *PathLocks) Held(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, held := l.paths[lockKey(path)]

	return held
}
