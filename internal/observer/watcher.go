// Package observer watches source repositories for edits and collects
// run metrics from the event bus.
package observer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called when files change in a watched repo.
type ChangeCallback func(repoPath string, changedFiles []string)

var watchExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".json": true, ".yaml": true, ".yml": true, ".md": true,
}

var ignoreDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	"venv": true, "vendor": true,
}

// RepoWatcher monitors repository trees for source edits, batching
// rapid changes behind a debounce window.
type RepoWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	repos map[string]struct{}

	pendingByRepo map[string]map[string]struct{}
	timer         *time.Timer
	mu            sync.Mutex

	cancel context.CancelFunc
}

// NewRepoWatcher creates a watcher that invokes callback with batched
// file changes per repo.
func NewRepoWatcher(callback ChangeCallback) (*RepoWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RepoWatcher{
		watcher:       watcher,
		callback:      callback,
		debounce:      500 * time.Millisecond,
		repos:         make(map[string]struct{}),
		pendingByRepo: make(map[string]map[string]struct{}),
	}, nil
}

// AddRepo starts watching a repository tree. Ignored directories are
// skipped; missing paths are a no-op.
func (rw *RepoWatcher) AddRepo(repoPath string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if _, exists := rw.repos[repoPath]; exists {
		return nil
	}
	if _, err := os.Stat(repoPath); os.IsNotExist(err) {
		return nil
	}

	err := filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if ignoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return rw.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rw.repos[repoPath] = struct{}{}
	return nil
}

// RemoveRepo stops watching a repository tree.
func (rw *RepoWatcher) RemoveRepo(repoPath string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if _, exists := rw.repos[repoPath]; !exists {
		return
	}

	filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			rw.watcher.Remove(path)
		}
		return nil
	})

	delete(rw.repos, repoPath)
	delete(rw.pendingByRepo, repoPath)
}

// Start begins watching for file changes
func (rw *RepoWatcher) Start(ctx context.Context) {
	ctx, rw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rw.watcher.Events:
				if !ok {
					return
				}
				rw.handleEvent(event)
			case _, ok := <-rw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops watching for file changes
func (rw *RepoWatcher) Stop() {
	if rw.cancel != nil {
		rw.cancel()
	}
	rw.watcher.Close()
}

func (rw *RepoWatcher) handleEvent(event fsnotify.Event) {
	if !watchExtensions[filepath.Ext(event.Name)] {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	repoPath := rw.findRepo(event.Name)
	if repoPath == "" {
		return
	}

	if rw.pendingByRepo[repoPath] == nil {
		rw.pendingByRepo[repoPath] = make(map[string]struct{})
	}
	rw.pendingByRepo[repoPath][event.Name] = struct{}{}

	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, rw.flush)
}

func (rw *RepoWatcher) findRepo(filePath string) string {
	for repo := range rw.repos {
		if strings.HasPrefix(filePath, repo) {
			return repo
		}
	}
	return ""
}

func (rw *RepoWatcher) flush() {
	rw.mu.Lock()
	pending := rw.pendingByRepo
	rw.pendingByRepo = make(map[string]map[string]struct{})
	rw.mu.Unlock()

	if rw.callback == nil {
		return
	}

	for repoPath, fileMap := range pending {
		files := make([]string, 0, len(fileMap))
		for f := range fileMap {
			files = append(files, f)
		}
		if len(files) > 0 {
			rw.callback(repoPath, files)
		}
	}
}

// SetDebounce sets the debounce duration for batching file changes
func (rw *RepoWatcher) SetDebounce(d time.Duration) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.debounce = d
}
