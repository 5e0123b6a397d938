package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events one save produces.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads path whenever it is written or replaced and calls onChange
// with the new Config when at least one section differs from the active one.
// It runs until ctx is cancelled.
//
// The parent directory is watched, so editors that save by renaming a temp
// file over path are seen too. A reload that fails to parse or validate is
// logged and the active config stays in place.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	active, err := Load(abs)
	if err != nil {
		slog.Warn("config: active file does not load, next valid edit applies in full",
			"path", path, "err", err)
		active = nil
	}

	slog.Info("config: watching for changes", "path", path)

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != abs || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			next, err := Load(abs)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			changed := ChangedSections(active, next)
			if len(changed) == 0 {
				slog.Debug("config: file written, nothing changed", "path", path)
				continue
			}
			slog.Info("config: reloaded", "path", path, "sections", changed)
			active = next
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

var sections = []struct {
	name string
	get  func(*Config) any
}{
	{"monitor", func(c *Config) any { return c.Monitor }},
	{"checks", func(c *Config) any { return c.Checks }},
	{"dispatch", func(c *Config) any { return c.Dispatch }},
	{"actions", func(c *Config) any { return c.Actions }},
	{"server", func(c *Config) any { return c.Server }},
	{"log", func(c *Config) any { return c.Log }},
	{"nats", func(c *Config) any { return c.NATS }},
	{"redis", func(c *Config) any { return c.Redis }},
}

// ChangedSections lists the top-level sections, by YAML key, whose values
// differ between prev and next. A nil prev counts every section as changed.
func ChangedSections(prev, next *Config) []string {
	var out []string
	for _, s := range sections {
		if prev == nil || !reflect.DeepEqual(s.get(prev), s.get(next)) {
			out = append(out, s.name)
		}
	}
	return out
}
