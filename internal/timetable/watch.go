package timetable

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "namazbot/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// LoadedAt reports when the table was last (re)loaded.
func (s *Source) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Watch reloads the file whenever it changes on disk until ctx is done.
// onReload, if set, runs after every reload attempt with its result.
//
// The parent directory is watched (editors often replace files by rename).
// A broken file is logged and ignored; the previous table stays active.
func (s *Source) Watch(ctx context.Context, onReload func(err error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	s.log.Debug("timetable watcher started", logx.String("dir", dir), logx.String("file", file))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			err := s.Reload()
			if err != nil {
				s.log.Warn("timetable reload failed; keeping previous table", logx.String("path", s.path), logx.Err(err))
			}
			if onReload != nil {
				onReload(err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("timetable watch error", logx.Err(err))
		}
	}
}
