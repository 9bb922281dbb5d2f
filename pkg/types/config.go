// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Chunk sizing imposed by the object store's multipart API: all parts
// except the last must be the same size within [MinChunkSize, MaxChunkSize],
// and an assembled object holds at most MaxParts parts.
const (
	MinChunkSize = 5 << 20  // 5 MiB
	MaxChunkSize = 5 << 30  // 5 GiB
	MaxParts     = 10_000
)

// MaxUploadChunkSize caps a single uploaded part slightly below the store
// limit so metadata overhead never tips a part over MaxChunkSize.
const MaxUploadChunkSize = MaxChunkSize - (1 << 20)

// BackendType identifies an object store backend implementation.
type BackendType string

const (
	BackendTypeS3 BackendType = "s3"
)

// BackendConfig configures a single object store backend.
type BackendConfig struct {
	Type     BackendType `json:"type"`
	Bucket   string      `json:"bucket"`
	Region   string      `json:"region,omitempty"`
	Endpoint string      `json:"endpoint,omitempty"`

	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

// CompatibilityMode controls how forgiving the upload reconciler is with
// clients whose chunk sizes drift from the store's part-size rules.
type CompatibilityMode string

const (
	// CompatibilityOff rejects non-ideal chunk sequences with a range error.
	CompatibilityOff CompatibilityMode = "off"

	// CompatibilityFull repairs shrinking and growing chunk sequences at the
	// cost of extra store bandwidth.
	CompatibilityFull CompatibilityMode = "full"
)

// Config holds the engine configuration.
type Config struct {
	Backend BackendConfig `json:"backend"`

	// PushCompatibilityMode selects the reconciler behavior for chunked
	// uploads. Defaults to CompatibilityOff.
	PushCompatibilityMode CompatibilityMode `json:"push_compatibility_mode,omitempty"`

	// StateTTL is the advisory lifetime of an upload state record.
	StateTTL Duration `json:"state_ttl,omitempty"`

	// ScratchTTL is the advisory lifetime of reconciler scratch objects.
	ScratchTTL Duration `json:"scratch_ttl,omitempty"`

	// GCInterval is how often the background collector runs.
	GCInterval Duration `json:"gc_interval,omitempty"`
}

// Duration wraps time.Duration with JSON string encoding ("2h", "90s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ApplyDefaults fills zero-valued knobs with their defaults.
func (c *Config) ApplyDefaults() {
	if c.PushCompatibilityMode == "" {
		c.PushCompatibilityMode = CompatibilityOff
	}
	if c.StateTTL == 0 {
		c.StateTTL = Duration(2 * time.Hour)
	}
	if c.ScratchTTL == 0 {
		c.ScratchTTL = Duration(1 * time.Hour)
	}
	if c.GCInterval == 0 {
		c.GCInterval = Duration(5 * time.Minute)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendTypeS3:
		if c.Backend.Bucket == "" {
			return fmt.Errorf("backend %q requires a bucket", c.Backend.Type)
		}
	case "":
		return fmt.Errorf("backend type is required")
	}

	switch c.PushCompatibilityMode {
	case "", CompatibilityOff, CompatibilityFull:
	default:
		return fmt.Errorf("unknown push compatibility mode %q", c.PushCompatibilityMode)
	}

	if c.StateTTL < 0 || c.ScratchTTL < 0 || c.GCInterval < 0 {
		return fmt.Errorf("TTLs and intervals must not be negative")
	}
	return nil
}

// LoadConfigFromFile loads the engine configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
