// Package config resolves mcp-pty's startup configuration from CLI flags,
// an optional JSON config file, and environment variables, per spec §6.
// Precedence is CLI > config file > env vars > defaults, the same layering
// the teacher repo used for its single `-root` flag, generalized to the
// larger set of settings this daemon needs.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Transport selects how mcp-pty exposes its MCP server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// DefaultPort is used when Transport is http and no port is configured.
const DefaultPort = 6420

// Config is the fully resolved startup configuration.
type Config struct {
	Transport           Transport
	Port                int
	DeactivateResources bool
	Debug               bool
}

// fileConfig mirrors the on-disk JSON schema from spec §6. DeactivateResources
// is a pointer so an absent field can be told apart from an explicit false,
// which matters for layering it correctly under the env var.
type fileConfig struct {
	Transport           string `json:"transport"`
	Port                int    `json:"port"`
	DeactivateResources *bool  `json:"deactivateResources"`
}

// Load parses argv (normally os.Args[1:]) and layers it over the config
// file and environment to produce the final Config. name is used as the
// flag set's program name in usage output.
func Load(name string, argv []string) (Config, error) {
	cfg := Config{
		Transport:           TransportStdio,
		Port:                DefaultPort,
		DeactivateResources: false,
	}

	// Env vars rank below the config file, so apply them first and let a
	// file value overwrite them.
	if os.Getenv("MCP_PTY_DEACTIVATE_RESOURCES") == "true" {
		cfg.DeactivateResources = true
	}

	if fc, ok, err := loadConfigFile(); err != nil {
		return Config{}, err
	} else if ok {
		applyFileConfig(&cfg, fc)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var transport string
	var port int
	var debug bool
	fs.StringVar(&transport, "transport", "", "transport to expose the MCP server on: stdio or http")
	fs.IntVar(&port, "port", 0, "port to listen on when --transport=http (default 6420)")
	fs.BoolVar(&debug, "debug", false, "enable debug-level logging")
	if err := fs.Parse(argv); err != nil {
		return Config{}, err
	}

	if transport != "" {
		cfg.Transport = Transport(transport)
	}
	if port != 0 {
		cfg.Port = port
	}
	cfg.Debug = debug

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports a startup-fatal error for a malformed Config.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: invalid transport %q (want %q or %q)", c.Transport, TransportStdio, TransportHTTP)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Transport != "" {
		cfg.Transport = Transport(fc.Transport)
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.DeactivateResources != nil {
		cfg.DeactivateResources = *fc.DeactivateResources
	}
}

// loadConfigFile reads $XDG_CONFIG_HOME/mcp-pty/config.json. A missing file
// is not an error; ok is false and fc is the zero value.
func loadConfigFile() (fc fileConfig, ok bool, err error) {
	path := configFilePath()
	if path == "" {
		return fileConfig{}, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, false, nil
		}
		return fileConfig{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, true, nil
}

func configFilePath() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "mcp-pty", "config.json")
}
