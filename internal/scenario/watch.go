package scenario

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a scenario file whenever it changes on disk, so a long
// running heapstorm session can pick up edits to its script without a
// restart.
type Watcher struct {
	path    string
	tool    string
	watcher *fsnotify.Watcher
	changes chan *Config
}

// WatchFile starts watching path for writes and returns a Watcher whose
// Changes channel delivers a freshly reloaded Config after each one.
// Parse errors on reload are logged and otherwise ignored — the last
// good Config keeps being used until a write produces a valid one.
func WatchFile(path, toolVersion string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		tool:    toolVersion,
		watcher: fw,
		changes: make(chan *Config, 1),
	}

	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				close(w.changes)
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := Load(w.path, w.tool)
			if err != nil {
				log.Printf("scenario: reload %s failed: %v", w.path, err)
				continue
			}

			w.changes <- cfg

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("scenario: watch %s: %v", w.path, err)
		}
	}
}

// Changes returns the channel on which reloaded Configs are delivered.
func (w *Watcher) Changes() <-chan *Config {
	return w.changes
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
