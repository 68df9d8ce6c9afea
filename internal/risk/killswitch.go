package risk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// KillSwitch halts new exposure while a marker file exists. While Watch is running the
// watcher keeps the state current and Engaged reads it without touching the filesystem;
// otherwise every Engaged call stats the file.
type KillSwitch struct {
	path     string
	engaged  atomic.Bool
	watching atomic.Bool
	log      zerolog.Logger
}

// NewKillSwitch watches path. An empty path yields a switch that never engages.
func NewKillSwitch(path string, log zerolog.Logger) *KillSwitch {
	k := &KillSwitch{path: path, log: log.With().Str("component", "killswitch").Logger()}
	k.refresh()
	return k
}

func (k *KillSwitch) Path() string { return k.path }

// Engaged reports whether the marker file exists.
func (k *KillSwitch) Engaged() bool {
	if k == nil || k.path == "" {
		return false
	}
	if k.watching.Load() {
		return k.engaged.Load()
	}
	return k.refresh()
}

// refresh stats the marker file and stores the result.
func (k *KillSwitch) refresh() bool {
	if k.path == "" {
		return false
	}
	_, err := os.Stat(k.path)
	on := err == nil
	k.set(on)
	return on
}

func (k *KillSwitch) set(on bool) {
	if k.engaged.Swap(on) != on {
		if on {
			k.log.Warn().Str("file", k.path).Msg("kill switch engaged, new entries blocked")
		} else {
			k.log.Info().Str("file", k.path).Msg("kill switch released")
		}
	}
}

// Watch follows create/remove events on the marker file until ctx is done.
func (k *KillSwitch) Watch(ctx context.Context) error {
	if k.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(k.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	// Events before Add were missed.
	k.refresh()
	k.watching.Store(true)
	defer k.watching.Store(false)

	name := filepath.Clean(k.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				k.set(true)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				k.refresh()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				k.refresh()
				continue
			}
			k.log.Error().Err(err).Msg("kill switch watcher")
		}
	}
}
