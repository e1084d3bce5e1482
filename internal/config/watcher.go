// Package config provides configuration reload for the items API: a SIGHUP
// handler, a file watcher and the Reloader that applies new settings.
package config

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Reload triggers, reported in the "trigger" log field.
const (
	TriggerSignal = "sighup"
	TriggerFile   = "file"
)

// ReloadFunc re-reads the items API configuration at configPath.
// A returned error is logged; the running settings stay in place.
type ReloadFunc func(configPath string) error

// reloadOn runs reloadFn and logs the outcome under trigger.
func reloadOn(trigger, configPath string, reloadFn ReloadFunc) {
	entry := log.WithFields(log.Fields{"trigger": trigger, "config": configPath})
	entry.Info("Reloading configuration")
	if err := reloadFn(configPath); err != nil {
		entry.WithError(err).Error("Configuration reload failed, keeping current settings")
		return
	}
	entry.Debug("Configuration reload finished")
}

// SetupSIGHUPHandler reloads configPath on every SIGHUP until ctx is done.
// It returns immediately; `kill -HUP <pid>` then picks up a new log level or
// user ID header without a restart.
func SetupSIGHUPHandler(ctx context.Context, configPath string, reloadFn ReloadFunc) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sighup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				reloadOn(TriggerSignal, configPath, reloadFn)
			}
		}
	}()

	log.WithField("config", configPath).Info("SIGHUP reload enabled")
}

// isConfigChange reports whether event rewrote the file called name.
// Editors that save by rename show up as Create.
func isConfigChange(event fsnotify.Event, name string) bool {
	if filepath.Base(event.Name) != name {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// WatchConfigFile reloads configPath whenever it is rewritten. The parent
// directory is watched so atomic saves, which replace the file, are seen.
// The watch ends when the returned watcher is closed.
func WatchConfigFile(configPath string, reloadFn ReloadFunc) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	name := filepath.Base(configPath)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if isConfigChange(event, name) {
					reloadOn(TriggerFile, configPath, reloadFn)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Config file watcher error")
			}
		}
	}()

	log.WithField("config", configPath).Info("Watching config file for changes")
	return watcher, nil
}
