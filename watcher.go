// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Watcher keeps a [Registry] compiled from the script files of a directory
// up to date. It recompiles the whole directory whenever a script file is
// written, created, removed or renamed. A failing recompilation keeps the
// previous registry.
type Watcher struct {
	dir         string
	typeSamples []any
	logger      zerolog.Logger

	fsw     *fsnotify.Watcher
	reg     atomic.Pointer[Registry]
	reloads chan error
	wg      sync.WaitGroup
}

// NewWatcher compiles the script files of dir with [LoadDir] and starts
// watching it. The watcher must be stopped with [Watcher.Close].
func NewWatcher(logger zerolog.Logger, dir string, typeSamples ...any) (*Watcher, error) {
	reg, err := LoadDir(dir, typeSamples...)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot watch scripts")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "cannot watch %s", dir)
	}
	w := &Watcher{
		dir:         dir,
		typeSamples: typeSamples,
		logger:      logger.With().Str("dir", dir).Logger(),
		fsw:         fsw,
		reloads:     make(chan error, 16),
	}
	w.reg.Store(reg)
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Registry returns the registry of the last successful compilation. It is
// safe for concurrent use.
func (w *Watcher) Registry() *Registry {
	return w.reg.Load()
}

// Reloads returns a channel receiving the outcome of every recompilation,
// nil when it succeeded. Outcomes are dropped while the channel is full. The
// channel is closed by [Watcher.Close].
func (w *Watcher) Reloads() <-chan error {
	return w.reloads
}

// Close stops watching the directory.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.reloads)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != Extension {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watch failed")
		}
	}
}

func (w *Watcher) reload(event fsnotify.Event) {
	reg, err := LoadDir(w.dir, w.typeSamples...)
	if err != nil {
		w.logger.Error().Err(err).Str("file", event.Name).Msg("cannot reload scripts, keeping previous version")
	} else {
		w.reg.Store(reg)
		w.logger.Info().Str("file", event.Name).Int("scripts", len(reg.scripts)).Msg("reloaded scripts")
	}
	select {
	case w.reloads <- err:
	default:
	}
}
