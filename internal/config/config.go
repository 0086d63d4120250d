// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and hot-reloads domain.Config from a TOML file, per
// SPEC_FULL.md §10.2: github.com/spf13/viper does the decoding (go-toml/v2
// under the hood), github.com/fsnotify/fsnotify watches the file for writes,
// and every read goes through an atomic.Pointer[domain.Config] so a task
// never observes a half-updated config mid-reload, per spec §5.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/pkg/debounce"
)

// watchDebounce coalesces the burst of Write events most editors/atomic
// config-writers generate for a single logical save into one reload.
const watchDebounce = 250 * time.Millisecond

// defaultDatabaseFilename is used when databasePath is unset in both the
// config file and the environment, matching the teacher's "next to the
// config file" convention.
const defaultDatabaseFilename = "mlm.db"

// envDatabasePathOverride is checked explicitly (rather than relying on
// viper's automatic env binding) so the override applies even to configs
// that never mention databasePath at all, matching the teacher's
// documented env-var precedence behavior.
const envDatabasePathOverride = "MLM__DATABASE_PATH"

// Manager owns the live config: New loads it once, Watch keeps it current,
// Current always returns a complete, consistent snapshot.
type Manager struct {
	configPath   string
	databasePath string

	snapshot  atomic.Pointer[domain.Config]
	watcher   *fsnotify.Watcher
	debouncer *debounce.Debouncer
}

// New loads configPath, creating it from domain.DefaultConfig if it does
// not exist yet, and returns a Manager ready to serve Current().
func New(configPath string) (*Manager, error) {
	if err := ensureConfigFile(configPath); err != nil {
		return nil, err
	}

	m := &Manager{configPath: configPath}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the presently-active config snapshot. Safe for
// concurrent use; callers must not mutate the returned value.
func (m *Manager) Current() domain.Config {
	return *m.snapshot.Load()
}

// GetDatabasePath returns the resolved sqlite database path: the
// MLM__DATABASE_PATH environment variable if set, else the config file's
// databasePath, else <configDir>/mlm.db.
func (m *Manager) GetDatabasePath() string {
	return m.databasePath
}

// Watch starts an fsnotify watch on the config file; on write events it
// reloads, validates, and atomically swaps the snapshot, logging and
// keeping the previous snapshot live on error rather than ever exposing a
// half-updated config. Callers should also call Reload on SIGHUP.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	m.watcher = watcher
	m.debouncer = debounce.New(watchDebounce)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.debouncer.Do(func() {
					if err := m.Reload(); err != nil {
						log.Error().Err(err).Str("path", m.configPath).Msg("config: reload after file change failed, keeping previous config")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config: watcher error")
			}
		}
	}()
	return nil
}

// Reload re-reads the config file (e.g. on SIGHUP) and swaps the snapshot
// atomically. The previous snapshot stays live if validation fails.
func (m *Manager) Reload() error {
	return m.reload()
}

// Close stops the fsnotify watch, if any.
func (m *Manager) Close() error {
	if m.debouncer != nil {
		m.debouncer.Stop()
	}
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Close()
}

func (m *Manager) reload() error {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("toml")

	defaults := domain.DefaultConfig()
	for key, value := range structToMap(defaults) {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", m.configPath, err)
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", m.configPath, err)
	}

	if err := validate(&cfg); err != nil {
		return fmt.Errorf("validate config %s: %w", m.configPath, err)
	}

	m.databasePath = resolveDatabasePath(m.configPath, &cfg)

	m.snapshot.Store(&cfg)
	return nil
}

func validate(cfg *domain.Config) error {
	if cfg.MamID == "" {
		log.Warn().Msg("config: mam_id is empty; tracker requests will fail until it is set")
	}
	if cfg.UnsatBuffer < 0 {
		return fmt.Errorf("unsat_buffer must be >= 0, got %d", cfg.UnsatBuffer)
	}
	if cfg.MinRatio < 0 {
		return fmt.Errorf("min_ratio must be >= 0, got %f", cfg.MinRatio)
	}
	return nil
}

// resolveDatabasePath applies the env-var-overrides-config-overrides-default
// precedence documented in the teacher's config tests.
func resolveDatabasePath(configPath string, cfg *domain.Config) string {
	if env := os.Getenv(envDatabasePathOverride); env != "" {
		return env
	}
	if cfg.DatabasePath != "" {
		return cfg.DatabasePath
	}
	return filepath.Join(filepath.Dir(configPath), defaultDatabaseFilename)
}

func ensureConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config %s: %w", configPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// structToMap lists the defaults reload seeds through viper's SetDefault,
// covering keys a sparse user config may omit entirely (e.g. a file
// containing only mam_id).
func structToMap(cfg *domain.Config) map[string]any {
	return map[string]any{
		"unsat_buffer":                    cfg.UnsatBuffer,
		"min_ratio":                       cfg.MinRatio,
		"search_interval":                 cfg.SearchIntervalMinutes,
		"link_interval":                   cfg.LinkIntervalMinutes,
		"goodreads_interval":              cfg.GoodreadsIntervalMinutes,
		"audio_types":                     cfg.AudioTypes,
		"ebook_types":                     cfg.EbookTypes,
		"host":                            cfg.Host,
		"port":                            cfg.Port,
		"logLevel":                        cfg.LogLevel,
		"logMaxSize":                      cfg.LogMaxSize,
		"logMaxBackups":                   cfg.LogMaxBackups,
		"metricsHost":                     cfg.MetricsHost,
		"metricsPort":                     cfg.MetricsPort,
		"exclude_narrator_in_library_dir": cfg.ExcludeNarratorInLibraryDir,
	}
}
