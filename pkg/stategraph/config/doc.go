// Package config provides typed access to free-form configuration maps.
//
// A Config wraps map[string]any, as produced by YAML or JSON decoding, and
// returns defaults instead of errors when a key is missing or mistyped:
//
//	cfg, err := config.FromFile("stategraph.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.Duration("timeout", 30*time.Second)
//
// Structured settings decode through mapstructure:
//
//	ec, err := config.DecodeEngineConfig(cfg)
//	rc, err := config.DecodeRunConfig(map[string]any{
//	    "thread_id": "t-1",
//	    "user":      "alice", // lands in rc.Values
//	})
package config
