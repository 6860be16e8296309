package config

import (
	"fmt"
	"strings"

	"snooze/internal/journal"
	"snooze/internal/registry"
	"snooze/internal/sched"
	logx "snooze/pkg/logx"
)

// The helpers below translate the declarative file shape into the typed
// configs of the packages that consume them. They are also where the config
// is validated, so the manager can reject a bad file before publishing it.

func (c *Config) LogxConfig() logx.Config {
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) RegistryConfig() (registry.Config, error) {
	if len(c.Shards) == 0 {
		return registry.Config{}, fmt.Errorf("shards: at least one shard required")
	}

	defTimeout, err := parseDurationField("defaults.call_timeout", c.Defaults.CallTimeout)
	if err != nil {
		return registry.Config{}, err
	}
	defMode, err := parseMode("defaults.mode", c.Defaults.Mode)
	if err != nil {
		return registry.Config{}, err
	}

	rc := registry.Config{DefaultShard: strings.TrimSpace(c.Defaults.Shard)}
	for i, sc := range c.Shards {
		field := fmt.Sprintf("shards[%d]", i)
		if strings.TrimSpace(sc.Name) == "" {
			return registry.Config{}, fmt.Errorf("%s.name: required", field)
		}
		timeout := defTimeout
		if sc.CallTimeout != "" {
			timeout, err = parseDurationField(field+".call_timeout", sc.CallTimeout)
			if err != nil {
				return registry.Config{}, err
			}
		}
		mode := defMode
		if sc.Mode != "" {
			mode, err = parseMode(field+".mode", sc.Mode)
			if err != nil {
				return registry.Config{}, err
			}
		}
		rc.Shards = append(rc.Shards, sched.Config{
			Name:        strings.TrimSpace(sc.Name),
			QueueSize:   sc.QueueSize,
			IDPrefix:    sc.IDPrefix,
			CallTimeout: timeout,
			DefaultMode: mode,
		})
	}
	return rc, nil
}

func (c *Config) JournalConfig() (journal.Config, error) {
	if c.Journal == nil {
		return journal.Config{}, nil
	}
	busy, err := parseDurationField("journal.busy_timeout", c.Journal.BusyTimeout)
	if err != nil {
		return journal.Config{}, err
	}
	retention, err := parseDurationField("journal.retention", c.Journal.Retention)
	if err != nil {
		return journal.Config{}, err
	}
	return journal.Config{
		Driver:        c.Journal.Driver,
		Path:          c.Journal.Path,
		BusyTimeout:   busy,
		Retention:     retention,
		PruneSchedule: c.Journal.PruneSchedule,
	}, nil
}

// Validate runs every translation so a bad file fails as one error before
// anything is applied.
func (c *Config) Validate() error {
	if _, err := c.RegistryConfig(); err != nil {
		return err
	}
	if _, err := c.JournalConfig(); err != nil {
		return err
	}
	return nil
}

// parseMode maps a config mode string to a sched.Mode. Only the safe default
// and the explicitly ugly "unsafe_inline" are accepted; DeliverTo needs a
// live recipient and cannot come from a file.
func parseMode(path, raw string) (sched.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "async":
		return sched.Async(), nil
	case "unsafe_inline":
		return sched.UnsafeInline(), nil
	default:
		return sched.Mode{}, fmt.Errorf("%s: unknown mode %q (want \"async\" or \"unsafe_inline\")", path, raw)
	}
}
