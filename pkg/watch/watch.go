// Package watch reloads the skill registry when bundle files change on disk.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/pkg/errors"
)

// DefaultDebounce is how long the watcher waits for changes to settle
const DefaultDebounce = 300 * time.Millisecond

// Reloader is rebuilt after each settled batch of changes
type Reloader interface {
	Reload(ctx context.Context) error
}

// Option configures a Watcher
type Option func(*Watcher) error

// WithDebounce sets the quiet period between the last change and the reload
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) error {
		if d < 0 {
			return errors.Errorf("debounce cannot be negative: %s", d)
		}
		w.debounce = d
		return nil
	}
}

// Watcher watches skill directories recursively
type Watcher struct {
	reloader Reloader
	dirs     []string
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}

	// owned by Start and then the event loop
	trees   map[string]bool // directories watched as part of a skill tree
	parents map[string]bool // ancestors watched until a missing skill dir appears
	pending map[string]bool // skill directories that do not exist yet

	mu      sync.Mutex
	reloads int
}

// New creates a watcher over dirs. A directory that does not exist yet is
// picked up once it is created.
func New(reloader Reloader, dirs []string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		reloader: reloader,
		dirs:     dirs,
		debounce: DefaultDebounce,
		trees:    make(map[string]bool),
		parents:  make(map[string]bool),
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Start registers the directories and processes events in the background
// until ctx is cancelled or Close is called
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	w.fsw = fsw

	watched := 0
	for _, dir := range w.dirs {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if _, err := os.Stat(dir); err != nil {
			w.pending[dir] = true
			if _, err := w.watchParent(dir); err != nil {
				fsw.Close()
				return errors.Wrapf(err, "failed to watch parent of '%s'", dir)
			}
			logger.G(ctx).WithField("dir", dir).Debug("waiting for missing skill directory")
			continue
		}
		n, err := w.addTree(dir)
		if err != nil {
			fsw.Close()
			return errors.Wrapf(err, "failed to watch '%s'", dir)
		}
		watched += n
	}

	w.done = make(chan struct{})
	go w.loop(ctx)

	logger.G(ctx).WithField("directories", watched).Info("watching skill directories")
	return nil
}

// Close stops the watcher and waits for the event loop to exit
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	err := w.fsw.Close()
	<-w.done
	return err
}

// Reloads returns how many reloads have run
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// addTree watches root and every directory below it, following symlinked
// directories once per target
func (w *Watcher) addTree(root string) (int, error) {
	return w.walk(root, make(map[string]bool))
}

func (w *Watcher) walk(root string, visited map[string]bool) (int, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil || visited[resolved] {
		return 0, nil
	}
	visited[resolved] = true

	count := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
				n, err := w.walk(p+string(filepath.Separator), visited)
				count += n
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return err
		}
		w.trees[filepath.Clean(p)] = true
		count++
		return nil
	})
	return count, err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			name := filepath.Clean(event.Name)
			if parent := filepath.Dir(name); w.parents[parent] && !w.trees[parent] {
				if event.Op&fsnotify.Create == 0 || !w.advance(ctx, name) {
					continue
				}
			} else if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if _, err := w.addTree(event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("dir", event.Name).Warn("failed to watch new directory")
					}
				}
			}
			logger.G(ctx).WithField("file", event.Name).WithField("op", event.Op.String()).Debug("skill file changed")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.G(ctx).WithError(err).Error("error watching skill directories")
		case <-ctx.Done():
			return
		}
	}
}

// watchParent watches the nearest existing ancestor of dir without recursing.
// It reports whether a new ancestor was added.
func (w *Watcher) watchParent(dir string) (bool, error) {
	parent := nearestExisting(filepath.Dir(dir))
	if parent == "" || w.parents[parent] {
		return false, nil
	}
	if err := w.fsw.Add(parent); err != nil {
		return false, err
	}
	w.parents[parent] = true
	return true, nil
}

// advance handles a path created below a watched ancestor. It reports whether a
// pending skill directory came into existence.
func (w *Watcher) advance(ctx context.Context, created string) bool {
	appeared := false
	for dir := range w.pending {
		if created != dir && !strings.HasPrefix(dir, created+string(filepath.Separator)) {
			continue
		}
		// parents created in a burst may exist before they are watched
		for {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				if _, err := w.addTree(dir); err != nil {
					logger.G(ctx).WithError(err).WithField("dir", dir).Warn("failed to watch new skill directory")
					break
				}
				delete(w.pending, dir)
				appeared = true
				logger.G(ctx).WithField("dir", dir).Info("watching new skill directory")
				break
			}
			added, err := w.watchParent(dir)
			if err != nil {
				logger.G(ctx).WithError(err).WithField("dir", dir).Warn("failed to watch parent directory")
				break
			}
			if !added {
				break
			}
		}
	}
	return appeared
}

// nearestExisting returns dir or its closest ancestor that is a directory
func nearestExisting(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if err := w.reloader.Reload(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("failed to reload skills")
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logger.G(ctx).Info("skills reloaded")
}
