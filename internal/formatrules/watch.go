package formatrules

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// overridesFile is the on-disk shape operators use to tweak a format's
// constraints without a binary rebuild. Only formats present in the file
// are replaced; every other built-in table is left untouched.
type overridesFile struct {
	Formats map[string]Rules `toml:"formats"`
}

// Reload parses path and merges its [formats.*] entries into the live
// rule tables. An operator-edited rules file only needs to list the
// formats it changes.
func Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read format rules file: %w", err)
	}

	var parsed overridesFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse format rules file: %w", err)
	}

	tablesMu.RLock()
	merged := make(map[string]Rules, len(tables))
	for name, r := range tables {
		merged[name] = r
	}
	tablesMu.RUnlock()

	for name, r := range parsed.Formats {
		r.Format = name
		merged[name] = r
	}

	replaceTables(merged)
	return nil
}

// Watcher hot-reloads the rule tables whenever the on-disk rules file at
// path changes (ops convenience: tune land ratios or curve ideals without
// a redeploy).
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile starts watching path for writes, reloading on each one. Call
// Close to stop watching.
func WatchFile(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create format rules watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch format rules file: %w", err)
	}

	fw := &Watcher{watcher: w, done: make(chan struct{})}
	go fw.loop(path, logger)
	return fw, nil
}

func (fw *Watcher) loop(path string, logger *slog.Logger) {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := Reload(path); err != nil {
				logger.Warn("format rules reload failed", "path", path, "error", err)
				continue
			}
			logger.Info("format rules reloaded", "path", path)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("format rules watcher error", "error", err)
		case <-fw.done:
			return
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (fw *Watcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}
