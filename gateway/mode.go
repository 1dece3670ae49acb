package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which backend serves traffic.
type Mode string

const (
	ModeMock   Mode = "mock"
	ModeRemote Mode = "remote"
)

// ModeSettings is the persisted runtime LLM configuration. It lives in a
// small YAML file next to the data directory so mode switches made through
// the API survive restarts.
type ModeSettings struct {
	Mode    Mode   `yaml:"mode"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// ModeStatus is the read-only view reported by the status endpoint.
type ModeStatus struct {
	Mode          Mode   `json:"mode"`
	Backend       string `json:"backend"`
	Model         string `json:"model"`
	BaseURL       string `json:"base_url,omitempty"`
	CachedEntries int    `json:"cached_entries"`
}

// ModeManagerConfig holds the settings needed to construct backends on
// demand.
type ModeManagerConfig struct {
	// Path is where mode settings persist; empty disables persistence.
	Path string

	// Remote connection parameters used when switching to remote mode.
	APIKey     string
	EmbedModel string

	// Mock behavior.
	EmbedDim  int
	MockDelay time.Duration
}

// ModeManager owns the active backend and atomically swaps it on mode
// changes. All reads go through Backend() so in-flight gateway calls keep
// the backend they started with while new calls see the switch.
type ModeManager struct {
	mu       sync.RWMutex
	backend  Backend
	settings ModeSettings
	config   ModeManagerConfig
	cache    *Cache
}

// NewModeManager creates a manager starting in the given mode. When a
// persisted settings file exists it overrides the initial settings.
func NewModeManager(initial ModeSettings, config ModeManagerConfig, cache *Cache) (*ModeManager, error) {
	m := &ModeManager{config: config, cache: cache}

	if config.Path != "" {
		if persisted, err := loadSettings(config.Path); err == nil {
			initial = persisted
		}
	}
	if err := m.apply(initial); err != nil {
		return nil, err
	}
	return m, nil
}

// Backend returns the active backend.
func (m *ModeManager) Backend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// Settings returns a copy of the active settings.
func (m *ModeManager) Settings() ModeSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Status reports the active mode for the API.
func (m *ModeManager) Status() ModeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := ModeStatus{
		Mode:    m.settings.Mode,
		Model:   m.settings.Model,
		BaseURL: m.settings.BaseURL,
	}
	if m.backend != nil {
		status.Backend = m.backend.Name()
	}
	if m.cache != nil {
		status.CachedEntries = m.cache.Len()
	}
	return status
}

// SetMode switches the active backend and persists the new settings. An
// invalid request leaves the current backend untouched.
func (m *ModeManager) SetMode(settings ModeSettings) error {
	if err := m.apply(settings); err != nil {
		return err
	}
	if m.config.Path != "" {
		if err := saveSettings(m.config.Path, settings); err != nil {
			return fmt.Errorf("mode switched but not persisted: %w", err)
		}
	}
	return nil
}

func (m *ModeManager) apply(settings ModeSettings) error {
	var backend Backend
	switch settings.Mode {
	case ModeMock:
		backend = NewMockBackend(m.config.EmbedDim, m.config.MockDelay)
	case ModeRemote:
		remote, err := NewRemoteBackend(RemoteConfig{
			BaseURL:    settings.BaseURL,
			APIKey:     m.config.APIKey,
			Model:      settings.Model,
			EmbedModel: m.config.EmbedModel,
		})
		if err != nil {
			return fmt.Errorf("cannot switch to remote mode: %w", err)
		}
		backend = remote
	default:
		return fmt.Errorf("unknown llm mode %q", settings.Mode)
	}

	m.mu.Lock()
	m.backend = backend
	m.settings = settings
	m.mu.Unlock()
	return nil
}

func loadSettings(path string) (ModeSettings, error) {
	var settings ModeSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse llm settings: %w", err)
	}
	if settings.Mode == "" {
		return settings, fmt.Errorf("llm settings missing mode")
	}
	return settings, nil
}

func saveSettings(path string, settings ModeSettings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode llm settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write llm settings: %w", err)
	}
	return nil
}
