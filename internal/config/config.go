// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "/app/config/config.yaml"
	defaultAgentID    = "main"
)

// Backend names for state and lock storage.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the channel service.
type Config struct {
	// Path is the file the config was read from.
	Path string

	// Service
	Port         int
	StateDir     string
	GogBinary    string
	AgentID      string
	ReplyParser  string
	LockBackend  string
	LockTTL      time.Duration
	StateBackend string

	// Redis
	RedisURL     string
	InboundQueue string
	ReplyQueue   string

	// Postgres (optional)
	DatabaseURL string

	Gmail GmailSection
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Service struct {
		Port         int    `yaml:"port"`
		StateDir     string `yaml:"state_dir"`
		GogBin       string `yaml:"gog_bin"`
		AgentID      string `yaml:"agent_id"`
		ReplyParser  string `yaml:"reply_parser"`
		LockBackend  string `yaml:"lock_backend"`
		LockTTL      string `yaml:"lock_ttl"`
		StateBackend string `yaml:"state_backend"`
	} `yaml:"service"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Inbound string `yaml:"inbound"`
			Replies string `yaml:"replies"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Gmail GmailSection `yaml:"gmail"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return LoadFile(envOrDefault("CONFIG_PATH", defaultConfigPath))
}

// LoadFile reads and parses one config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse builds a Config from YAML. ${VAR} references are expanded and the
// document is validated against the embedded schema before decoding.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := []byte(os.ExpandEnv(string(data)))

	var doc any
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// An unset ${VAR} leaves an empty value, which YAML reads as null.
	// Treat those keys as absent so the env fallbacks below apply.
	if err := Validate(dropNulls(doc)); err != nil {
		return nil, err
	}

	var raw rawConfig
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	lockTTL, err := parseOptionalDuration(raw.Service.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("service.lock_ttl: %w", err)
	}

	cfg := &Config{
		Port:         firstPositive(raw.Service.Port, envOrDefaultInt("PORT", 8080)),
		StateDir:     firstNonEmpty(raw.Service.StateDir, envOrDefault("STATE_DIR", "/var/lib/mailchannel")),
		GogBinary:    firstNonEmpty(raw.Service.GogBin, envOrDefault("GOG_BIN", "gog")),
		AgentID:      firstNonEmpty(raw.Service.AgentID, defaultAgentID),
		ReplyParser:  firstNonEmpty(raw.Service.ReplyParser, envOrDefault("REPLY_PARSER", "none")),
		LockBackend:  firstNonEmpty(raw.Service.LockBackend, BackendFile),
		LockTTL:      lockTTL,
		StateBackend: firstNonEmpty(raw.Service.StateBackend, BackendFile),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		InboundQueue: firstNonEmpty(raw.Redis.Queues.Inbound, envOrDefault("INBOUND_QUEUE", "mailchannel:inbound")),
		ReplyQueue:   firstNonEmpty(raw.Redis.Queues.Replies, envOrDefault("REPLY_QUEUE", "mailchannel:replies")),
		DatabaseURL:  firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		Gmail:        raw.Gmail,
	}

	if cfg.StateBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("state_backend postgres requires database.url or DATABASE_URL")
	}

	return cfg, nil
}

// dropNulls removes null-valued keys from every mapping in doc.
func dropNulls(doc any) any {
	switch v := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = dropNulls(val)
		}
		return out
	default:
		return doc
	}
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return time.ParseDuration(strings.TrimSpace(s))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
