package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

// DefaultDebounce coalesces bursts of writes to the same file.
const DefaultDebounce = 200 * time.Millisecond

// Event is a change to an artifact.
type Event struct {
	// Path is relative to the skill directory, with forward slashes.
	Path string
	Op   fsnotify.Op
	Time time.Time
}

// Watch reports writes to the context directory of skillName until ctx is
// done. The directory is created when missing.
func (s *Store) Watch(ctx context.Context, skillName string, debounce time.Duration) (<-chan Event, error) {
	if _, err := s.Resolve(skillName, workflow.ContextDir); err != nil {
		return nil, err
	}
	root := workflow.SkillDir(s.workspace, skillName)
	dir := workflow.SkillContextDir(s.workspace, skillName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create context directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", dir)
	}

	out := make(chan Event, 16)
	d := newDebouncer(debounce, out)
	log := logger.G(ctx).WithField("skill", skillName)

	go func() {
		defer close(out)
		defer watcher.Close()
		defer d.stop()

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				rel, err := filepath.Rel(root, ev.Name)
				if err != nil {
					continue
				}
				d.push(Event{Path: filepath.ToSlash(rel), Op: ev.Op, Time: time.Now()})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("artifact watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// debouncer emits the last event per path once no newer event arrived for
// delay.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	out     chan<- Event
	pending map[string]*time.Timer
	stopped bool
}

func newDebouncer(delay time.Duration, out chan<- Event) *debouncer {
	return &debouncer{delay: delay, out: out, pending: make(map[string]*time.Timer)}
}

func (d *debouncer) push(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.pending[ev.Path]; ok {
		t.Stop()
	}
	d.pending[ev.Path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.stopped {
			return
		}
		delete(d.pending, ev.Path)
		select {
		case d.out <- ev:
		default:
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, t := range d.pending {
		t.Stop()
		delete(d.pending, path)
	}
}
