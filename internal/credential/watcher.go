package credential

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchSecrets triggers an immediate rotation whenever the secrets file at
// path is rewritten, so a key rollout doesn't have to wait for the next
// scheduled cycle. The parent directory is watched, not the file itself,
// because editors and secret mounts typically replace the file atomically.
// Cancelling ctx closes the watcher and stops both goroutines.
func (s *Store) WatchSecrets(
	ctx context.Context,
	path string,
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		watcher.Close()
	}()

	reload := make(chan struct{}, 1)
	go s.scheduleRotation(ctx, reload)
	go s.handleWatcher(watcher, filepath.Base(path), reload)
	return nil
}

func (s *Store) handleWatcher(
	watcher *fsnotify.Watcher,
	name string,
	reload chan<- struct{},
) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("secrets watcher error")
		}
	}
}

func (s *Store) scheduleRotation(
	ctx context.Context,
	reload <-chan struct{},
) {
	var timer *time.Timer = nil
	var c <-chan time.Time = nil
	duration := time.Millisecond * 500
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-reload:
			if timer != nil {
				timer.Reset(duration)
			} else {
				timer = time.NewTimer(duration)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil
			if err := s.Rotate(); err != nil {
				s.log.WithError(err).Warn("watched rotation failed, keeping previous credentials")
			}
		}
	}
}
