package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manager owns the live configuration and its file watcher.
type Manager struct {
	mu         sync.RWMutex
	config     *FileConfig
	configPath string
	stopCh     chan struct{}
	stopOnce   sync.Once
	onChange   []func(*FileConfig)
	lastMod    time.Time
}

// NewManager loads configuration from the given path (or well-known
// locations when empty), overlays environment variables and starts the
// file watcher when a file actually exists.
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".omni2api", "config.yaml"),
			"/etc/omni2api/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}

	if strings.HasPrefix(configPath, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolve home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, configPath[1:])
	}

	m := &Manager{
		configPath: configPath,
		stopCh:     make(chan struct{}),
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) || configPath == "" {
			m.config = defaultConfig()
			log.WithField("path", configPath).Info("no config file, using defaults plus environment")
		} else {
			return nil, fmt.Errorf("config: load %s: %w", configPath, err)
		}
	}

	m.config.mergeEnv()
	m.config.BasePath = NormalizeBasePath(m.config.BasePath)

	if m.configPath != "" {
		if _, err := os.Stat(m.configPath); err == nil {
			m.startWatcher()
		}
	}
	return m, nil
}

func (m *Manager) load() error {
	if m.configPath == "" {
		return os.ErrNotExist
	}
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	info, err := os.Stat(m.configPath)
	if err == nil {
		m.lastMod = info.ModTime()
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *FileConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return defaultConfig()
	}
	cfg := *m.config
	return &cfg
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(*FileConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Close stops the watcher goroutines.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) emitChange(newCfg *FileConfig) {
	m.mu.RLock()
	callbacks := make([]func(*FileConfig), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(newCfg)
	}
}

func (m *Manager) checkAndReload() {
	if m.configPath == "" {
		return
	}
	info, err := os.Stat(m.configPath)
	if err != nil {
		return
	}
	if !info.ModTime().After(m.lastMod) {
		return
	}

	if err := m.load(); err != nil {
		log.WithError(err).WithField("path", m.configPath).Warn("failed to reload config, keeping previous")
		return
	}
	m.mu.Lock()
	m.config.mergeEnv()
	m.config.BasePath = NormalizeBasePath(m.config.BasePath)
	newCfg := *m.config
	m.mu.Unlock()

	log.WithField("path", m.configPath).Info("configuration reloaded")
	m.emitChange(&newCfg)
}
