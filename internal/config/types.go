package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
)

// Config is the daemon's root configuration.
//
// Files may be JSON or YAML (YAML is coerced to JSON and decoded with the
// same strict decoder). Unknown fields are rejected.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Defaults apply to calls that do not pick a shard or mode explicitly.
	Defaults DefaultsConfig `json:"defaults"`

	// Shards defines the scheduler instances. At least one is required.
	Shards []ShardConfig `json:"shards"`

	// Journal controls the optional task-history journal.
	Journal *JournalConfig `json:"journal,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`

	// Console is a pointer so "omitted" defaults to true.
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DefaultsConfig names the default shard and the per-call defaults.
//
// Mode accepts "async" (the default) or "unsafe_inline". The inline mode runs
// callbacks on the shard goroutine and is deliberately hard to reach; see the
// sched package docs before configuring it.
type DefaultsConfig struct {
	Shard       string `json:"shard,omitempty"`
	CallTimeout string `json:"call_timeout,omitempty"` // Go duration string
	Mode        string `json:"mode,omitempty"`
}

type ShardConfig struct {
	Name      string `json:"name"`
	QueueSize int    `json:"queue_size,omitempty"`
	IDPrefix  string `json:"id_prefix,omitempty"`

	// CallTimeout and Mode override the defaults for this shard.
	CallTimeout string `json:"call_timeout,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

// JournalConfig controls the task-history journal.
//
// Example:
//
//	"journal": { "driver": "file", "path": "./snooze_journal", "retention": "168h" }
type JournalConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retention     string `json:"retention,omitempty"`    // Go duration string; "0s" disables pruning
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// DebugConfig controls the optional pprof/status HTTP listener.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`
}

// decodeStrict decodes JSON bytes into a Config, rejecting unknown fields and
// trailing tokens (e.g. concatenated JSON documents).
func decodeStrict(jb []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
