package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Configurer is the part of the collector a Watcher drives.
type Configurer interface {
	Configure(minThreshold, maxThreshold int)
}

// fullScanner is implemented by targets whose full scan mode can be
// switched while they run.
type fullScanner interface {
	SetFullScan(on bool)
}

// Watcher re-applies the thresholds and the full_scan switch of a config
// file whenever it changes. Other settings only take effect at collector
// construction.
type Watcher struct {
	path   string
	target Configurer
	log    *slog.Logger
	w      *fsnotify.Watcher

	mu      sync.Mutex
	reloads int
	lastErr error

	done chan struct{}
}

// Watch starts watching path. The directory is watched rather than the file
// so that editors replacing the file by rename are seen too.
func Watch(path string, target Configurer, log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config watch %s: %w", abs, err)
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		path:   abs,
		target: target,
		log:    log.With("component", "config", "path", abs),
		w:      fw,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.reloads++
	}
	w.mu.Unlock()
	if err != nil {
		// Partial writes show up as parse errors; the next write event
		// retries.
		w.log.Warn("config reload failed", "err", err)
		return
	}
	w.target.Configure(f.MinThreshold, f.MaxThreshold)
	if fs, ok := w.target.(fullScanner); ok {
		fs.SetFullScan(f.FullScan)
	}
	w.log.Info("config reloaded", "min", f.MinThreshold, "max", f.MaxThreshold, "full_scan", f.FullScan)
}

// Reloads reports how many reloads succeeded and the result of the last one.
func (w *Watcher) Reloads() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.lastErr
}

func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
