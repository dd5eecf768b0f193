// Package config handles burrow.toml run configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/resource"
)

// DefaultMaxRecursionDepth applies when a config sets no recursion limit.
const DefaultMaxRecursionDepth = 1000

// Config represents a burrow.toml configuration.
type Config struct {
	Limits       resource.Limits `toml:"limits"`
	Capabilities Capabilities    `toml:"capabilities"`
	Output       Output          `toml:"output"`

	// Inputs are the declared input names of the program, in order.
	Inputs []string `toml:"inputs"`

	// Externals are the names of the host functions the program may call.
	Externals []string `toml:"externals"`
}

// Capabilities lists what the program may ask of the host.
type Capabilities struct {
	Functions []string `toml:"functions"`
	AllowAll  bool     `toml:"allow_all"`
	Proxy     bool     `toml:"proxy"`
	Custom    []string `toml:"custom"`
}

// Output configures how results are printed.
type Output struct {
	Format  string `toml:"format"`
	NoColor bool   `toml:"no_color"`
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	return &Config{
		Limits: resource.Limits{MaxRecursionDepth: DefaultMaxRecursionDepth},
		Output: Output{Format: "text"},
	}
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a configuration; unset values keep their defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	l := c.Limits
	if l.MaxMemory < 0 || l.MaxAllocations < 0 || l.MaxRecursionDepth < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	return nil
}

// Tracker returns a fresh tracker enforcing the configured limits.
func (c *Config) Tracker() *resource.LimitedTracker {
	return resource.NewLimited(c.Limits)
}

// CapabilitySet builds the capability set. Every declared external function
// is granted, in addition to the functions listed explicitly.
func (c *Config) CapabilitySet() capability.Set {
	if c.Capabilities.AllowAll {
		return capability.Unrestricted()
	}
	var grants []capability.Grant
	for _, name := range c.Externals {
		grants = append(grants, capability.CallFunction(name))
	}
	for _, name := range c.Capabilities.Functions {
		grants = append(grants, capability.CallFunction(name))
	}
	if c.Capabilities.Proxy {
		grants = append(grants, capability.ProxyAccess())
	}
	for _, name := range c.Capabilities.Custom {
		grants = append(grants, capability.Custom(name))
	}
	return capability.New(grants...)
}
