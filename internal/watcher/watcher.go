// Package watcher monitors project record directories and reports changed
// records, debounced, so live surfaces can refresh without polling.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeCallback is called with the ids of records whose files changed
// within one debounce window for a project.
type ChangeCallback func(projectBase string, recordIDs []string)

// RecordWatcher monitors the record directories of registered projects.
type RecordWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	log      zerolog.Logger
	debounce time.Duration

	projects map[string]struct{}

	pendingByProject map[string]map[string]struct{}
	timer            *time.Timer
	mu               sync.Mutex

	cancel context.CancelFunc
}

// New creates a RecordWatcher.
func New(callback ChangeCallback, log zerolog.Logger) (*RecordWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RecordWatcher{
		watcher:          w,
		callback:         callback,
		log:              log,
		debounce:         500 * time.Millisecond,
		projects:         make(map[string]struct{}),
		pendingByProject: make(map[string]map[string]struct{}),
	}, nil
}

// AddProject starts watching a project's record directories.
func (w *RecordWatcher) AddProject(projectBase string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.projects[projectBase]; exists {
		return nil
	}

	featuresDir := filepath.Join(projectBase, ".automaker", "features")
	if _, err := os.Stat(featuresDir); os.IsNotExist(err) {
		return nil // nothing to watch yet
	}

	err := filepath.Walk(featuresDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.projects[projectBase] = struct{}{}
	return nil
}

// RemoveProject stops watching a project.
func (w *RecordWatcher) RemoveProject(projectBase string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.projects[projectBase]; !exists {
		return
	}

	featuresDir := filepath.Join(projectBase, ".automaker", "features")
	filepath.Walk(featuresDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			w.watcher.Remove(path)
		}
		return nil
	})

	delete(w.projects, projectBase)
	delete(w.pendingByProject, projectBase)
}

// Start begins processing filesystem events until ctx is canceled.
func (w *RecordWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("watch error")
			}
		}
	}()
}

// Stop halts the watcher.
func (w *RecordWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

// SetDebounce adjusts the debounce window.
func (w *RecordWatcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *RecordWatcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	projectBase, recordID := w.locate(event.Name)
	if recordID == "" {
		return
	}

	if w.pendingByProject[projectBase] == nil {
		w.pendingByProject[projectBase] = make(map[string]struct{})
	}
	w.pendingByProject[projectBase][recordID] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// locate maps a changed path to its project and record id. Record files
// live at <project>/.automaker/features/<id>/....
func (w *RecordWatcher) locate(path string) (projectBase, recordID string) {
	for project := range w.projects {
		featuresDir := filepath.Join(project, ".automaker", "features")
		rel, err := filepath.Rel(featuresDir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) >= 2 {
			return project, parts[0]
		}
	}
	return "", ""
}

func (w *RecordWatcher) flush() {
	w.mu.Lock()
	pending := w.pendingByProject
	w.pendingByProject = make(map[string]map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil {
		return
	}

	for project, idSet := range pending {
		ids := make([]string, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			w.callback(project, ids)
		}
	}
}
