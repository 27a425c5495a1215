package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server ServerSettings `json:"server"`
	Plex   PlexSettings   `json:"plex"`
	Trakt  TraktSettings  `json:"trakt"`
	Sync   SyncSettings   `json:"sync"`
	Log    LogConfig      `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PlexSettings holds connection details for the Plex Media Server whose
// watch history is synced.
type PlexSettings struct {
	ServerURL string `json:"serverUrl"`
	Token     string `json:"token"`
	ClientID  string `json:"clientId"`
	// AccountID filters watch history to one server account; 0 means all.
	AccountID int `json:"accountId,omitempty"`
}

// TraktSettings holds OAuth application credentials plus the cached token
// pair for the authorized account.
type TraktSettings struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"` // unix seconds
}

// SyncSettings tunes the history sync engine.
type SyncSettings struct {
	BatchSize            int  `json:"batchSize"`
	IncrementalBatchSize int  `json:"incrementalBatchSize"`
	BatchPauseMs         int  `json:"batchPauseMs"`
	ScrobblingEnabled    bool `json:"scrobblingEnabled"`
}

type LogConfig struct {
	File       string `json:"file,omitempty"`
	MaxSize    int    `json:"maxSize"` // megabytes
	MaxBackups int    `json:"maxBackups"`
	MaxAge     int    `json:"maxAge"` // days
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration written on first run.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 8787},
		Trakt: TraktSettings{
			RedirectURI: "urn:ietf:wg:oauth:2.0:oob",
		},
		Sync: SyncSettings{
			BatchSize:            100,
			IncrementalBatchSize: 25,
			BatchPauseMs:         1000,
			ScrobblingEnabled:    true,
		},
		Log: LogConfig{
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings at a fixed path.
type Manager struct {
	mu   sync.Mutex
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Load reads settings from disk, creating the file with defaults when it
// does not exist yet. Missing sync tunables are backfilled so configs that
// predate them keep working.
func (m *Manager) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}

	if s.Sync.BatchSize <= 0 {
		s.Sync.BatchSize = 100
	}
	if s.Sync.IncrementalBatchSize <= 0 {
		s.Sync.IncrementalBatchSize = 25
	}
	if s.Sync.BatchPauseMs < 0 {
		s.Sync.BatchPauseMs = 0
	}
	if s.Server.Port == 0 {
		s.Server.Port = 8787
	}

	return s, nil
}

// Save writes settings to disk atomically (write temp file, then rename).
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(s)
}

func (m *Manager) save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// UpdateTraktTokens persists a refreshed token pair.
func (m *Manager) UpdateTraktTokens(accessToken, refreshToken string, expiresAt int64) error {
	s, err := m.Load()
	if err != nil {
		return err
	}
	s.Trakt.AccessToken = accessToken
	s.Trakt.RefreshToken = refreshToken
	s.Trakt.ExpiresAt = expiresAt
	return m.Save(s)
}
