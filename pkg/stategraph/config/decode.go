package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// EngineConfig holds process-wide settings read from the CLI config file.
type EngineConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	Verbose       bool   `mapstructure:"verbose"`
	LogFormat     string `mapstructure:"log_format"`
	LogLevel      string `mapstructure:"log_level"`
	Checkpoint    string `mapstructure:"checkpoint"`
	Metrics       bool   `mapstructure:"metrics"`
	Tracing       bool   `mapstructure:"tracing"`
	Addr          string `mapstructure:"addr"`
}

// DefaultEngineConfig returns the settings used when no file is given.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations: 25,
		LogFormat:     "text",
		LogLevel:      "info",
		Addr:          ":8080",
	}
}

// ResumePoint names the node to start from and the state to start with.
type ResumePoint struct {
	Node  string         `mapstructure:"node"`
	State map[string]any `mapstructure:"state"`
}

// RunConfig is the map form of per-run configuration. Keys other than
// thread_id and resume_from are collected into Values.
type RunConfig struct {
	ThreadID   string         `mapstructure:"thread_id"`
	ResumeFrom *ResumePoint   `mapstructure:"resume_from"`
	Values     map[string]any `mapstructure:",remain"`
}

// Decode copies the config into out, a pointer to a struct with
// mapstructure tags. Duration strings are parsed.
func (c Config) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(c.data); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// DecodeEngineConfig overlays the config onto DefaultEngineConfig.
func DecodeEngineConfig(c Config) (EngineConfig, error) {
	ec := DefaultEngineConfig()
	if err := c.Decode(&ec); err != nil {
		return EngineConfig{}, err
	}
	if ec.MaxIterations <= 0 {
		return EngineConfig{}, fmt.Errorf("max_iterations must be positive, got %d", ec.MaxIterations)
	}
	switch ec.LogFormat {
	case "text", "json":
	default:
		return EngineConfig{}, fmt.Errorf("log_format must be text or json, got %q", ec.LogFormat)
	}
	return ec, nil
}

// DecodeRunConfig decodes a per-run configuration map.
func DecodeRunConfig(m map[string]any) (RunConfig, error) {
	var rc RunConfig
	if err := mapstructure.Decode(m, &rc); err != nil {
		return RunConfig{}, fmt.Errorf("decode run config: %w", err)
	}
	if rc.ResumeFrom != nil && rc.ResumeFrom.Node == "" {
		return RunConfig{}, fmt.Errorf("resume_from requires a node")
	}
	if rc.Values == nil {
		rc.Values = map[string]any{}
	}
	return rc, nil
}
