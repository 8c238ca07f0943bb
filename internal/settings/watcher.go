package settings

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher notices external rewrites of the persisted settings file, e.g. a
// desktop configurator pushing a new document over the mounted filesystem.
// Events are debounced because most tools write in several bursts.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	onChange func()
	done     chan struct{}
}

// WatchFile starts watching the settings file. The containing directory is
// watched rather than the file itself so replace-by-rename is seen too.
func WatchFile(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		path:     abs,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	const debounce = 200 * time.Millisecond

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.onChange()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
