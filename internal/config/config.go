package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreBadger = "badger"
	StoreMemory = "memory"
)

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Path   string `json:"path" yaml:"path"`
}

type ServerConfig struct {
	ListenAddr string      `json:"listen_addr" yaml:"listen_addr"`
	HTTPAddr   string      `json:"http_addr" yaml:"http_addr"`
	Store      StoreConfig `json:"store" yaml:"store"`

	TokenSecret     string `json:"token_secret" yaml:"token_secret"`
	TokenTTLSeconds int    `json:"token_ttl_seconds" yaml:"token_ttl_seconds"`
	AdminToken      string `json:"admin_token" yaml:"admin_token"`

	MinPlayers          int `json:"min_players" yaml:"min_players"`
	MailboxSize         int `json:"mailbox_size" yaml:"mailbox_size"`
	MaxLineBytes        int `json:"max_line_bytes" yaml:"max_line_bytes"`
	WriteTimeoutSeconds int `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	BcryptCost          int `json:"bcrypt_cost" yaml:"bcrypt_cost"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// Default returns the configuration used when no file is given.
func Default() ServerConfig {
	return ServerConfig{
		ListenAddr:          ":5555",
		HTTPAddr:            ":8080",
		Store:               StoreConfig{Driver: StoreBadger, Path: "data/users"},
		TokenTTLSeconds:     24 * 60 * 60,
		MinPlayers:          2,
		MailboxSize:         64,
		MaxLineBytes:        64 * 1024,
		WriteTimeoutSeconds: 10,
		BcryptCost:          10,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

func (c ServerConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// Load reads path (JSON, or YAML for .yaml/.yml) over the defaults, applies
// environment overrides and validates. An empty path skips the file.
func Load(path string) (*ServerConfig, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read server config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &c)
		default:
			err = json.Unmarshal(data, &c)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
		}
	}
	applyEnv(&c, os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyEnv(c *ServerConfig, lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"PARCHIS_LISTEN_ADDR", &c.ListenAddr},
		{"PARCHIS_HTTP_ADDR", &c.HTTPAddr},
		{"PARCHIS_TOKEN_SECRET", &c.TokenSecret},
		{"PARCHIS_ADMIN_TOKEN", &c.AdminToken},
		{"PARCHIS_STORE_PATH", &c.Store.Path},
		{"PARCHIS_LOG_LEVEL", &c.LogLevel},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok {
			*o.dst = v
		}
	}
}

// Validate rejects configurations the server cannot run with.
func (c ServerConfig) Validate() error {
	var problems []string
	if c.ListenAddr == "" && c.HTTPAddr == "" {
		problems = append(problems, "listen_addr or http_addr is required")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreBadger:
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the badger driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	if c.MinPlayers < 2 || c.MinPlayers > 4 {
		problems = append(problems, "min_players must be between 2 and 4")
	}
	if c.MailboxSize < 1 {
		problems = append(problems, "mailbox_size must be positive")
	}
	if c.MaxLineBytes < 256 {
		problems = append(problems, "max_line_bytes must be at least 256")
	}
	if c.WriteTimeoutSeconds < 0 {
		problems = append(problems, "write_timeout_seconds must not be negative")
	}
	if c.TokenTTLSeconds <= 0 {
		problems = append(problems, "token_ttl_seconds must be positive")
	}
	if c.BcryptCost != 0 && (c.BcryptCost < 4 || c.BcryptCost > 31) {
		problems = append(problems, "bcrypt_cost must be between 4 and 31")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid server config: %s", strings.Join(problems, "; "))
	}
	return nil
}

var (
	shared   *ServerConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadShared loads the process-wide configuration once. Later calls return
// the first result.
func LoadShared(path string) error {
	loadOnce.Do(func() {
		shared, loadErr = Load(path)
	})
	return loadErr
}

// Shared returns the process-wide configuration, or defaults if LoadShared
// was never called successfully.
func Shared() ServerConfig {
	if shared == nil {
		return Default()
	}
	return *shared
}
