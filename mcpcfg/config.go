// Package mcpcfg defines the configuration for MCP servers managed by this
// module: how to launch each server process and how long to wait for its
// responses.
package mcpcfg

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// DefaultTimeout is applied when a server config does not specify one.
const DefaultTimeout = 30 * time.Second

// ServerConfig describes how to launch one MCP server and talk to it over
// stdio. It is created at configuration-load time and never mutated.
type ServerConfig struct {
	// Name is the unique key the manager registers the server under.
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Command string   `json:"command" yaml:"command" validate:"required"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Cwd is the working directory for the spawned process.
	Cwd string `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	// Env is merged over the inherited process environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// TimeoutSeconds bounds the wait for each response line.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"omitempty,gte=1,lte=600"`
	// Optional marks servers whose connect failures are expected in some
	// deployments; the manager logs those at WARNING instead of ERROR.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Timeout returns the per-request response deadline.
func (c *ServerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks a single server config against its declared constraints.
func (c *ServerConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.WithMessage(err, "invalid server config")
	}
	return nil
}

// Config lists the MCP servers a host application connects to.
type Config struct {
	Servers []*ServerConfig `json:"servers" yaml:"servers" validate:"required,dive"`
}

// Load reads the config from a JSON or YAML file, expanding ${VAR} and
// ${VAR:-default} references against the environment.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config against its declared constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.WithMessage(err, "invalid config")
	}
	seen := make(map[string]bool, len(c.Servers))
	for _, sc := range c.Servers {
		if seen[sc.Name] {
			return errors.Errorf("duplicate server name: %s", sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}
