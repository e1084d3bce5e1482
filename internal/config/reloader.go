package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/fjacquet/items_api/internal/logging"
	"github.com/fjacquet/items_api/internal/models"
)

// ApplyFunc applies settings of a freshly loaded configuration to the
// running process.
type ApplyFunc func(cfg *models.Config) error

// ApplyLogLevel sets the logrus level from server.logLevel.
func ApplyLogLevel(cfg *models.Config) error {
	return logging.SetLevel(cfg.Server.LogLevel)
}

// Reloader reloads a SafeConfig from its file and runs the apply hooks.
// Settings read through SafeConfig on every request (the user ID header)
// need no hook.
type Reloader struct {
	cfg   *models.SafeConfig
	path  string
	hooks []ApplyFunc

	mu      sync.Mutex // serializes reloads from SIGHUP and the watcher
	watchMu sync.Mutex
	watcher *fsnotify.Watcher
}

// NewReloader creates a Reloader for cfg backed by the file at path.
func NewReloader(cfg *models.SafeConfig, path string, hooks ...ApplyFunc) *Reloader {
	return &Reloader{cfg: cfg, path: path, hooks: hooks}
}

// Reload re-reads configPath. An invalid file leaves the running
// configuration untouched. It satisfies ReloadFunc.
func (r *Reloader) Reload(configPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.cfg.ReloadConfig(configPath); err != nil {
		return err
	}

	current := r.cfg.Get()
	for _, hook := range r.hooks {
		if err := hook(current); err != nil {
			return fmt.Errorf("failed to apply reloaded config: %w", err)
		}
	}
	return nil
}

// Start reloads on SIGHUP and on changes to the config file until ctx is
// cancelled. A file watcher that cannot be created only disables file
// watching.
func (r *Reloader) Start(ctx context.Context) {
	SetupSIGHUPHandler(ctx, r.path, r.Reload)

	watcher, err := WatchConfigFile(r.path, r.Reload)
	if err != nil {
		log.Warnf("File watcher setup failed, config reload only via SIGHUP: %v", err)
		return
	}

	r.watchMu.Lock()
	r.watcher = watcher
	r.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		r.Close()
	}()
}

// Close stops the file watcher. It is safe to call more than once.
func (r *Reloader) Close() {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		_ = r.watcher.Close()
		r.watcher = nil
	}
}
