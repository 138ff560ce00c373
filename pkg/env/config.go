// Package env implements the agent-facing driving environment: a gym-style
// Reset/Step facade over a supervised external CARLA simulator process.
package env

import (
	"fmt"
	"os"
	"time"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/scenario"
)

// ServerBinaryEnv names the environment variable pointing at the simulator
// launcher script (CarlaUE4.sh).
const ServerBinaryEnv = "CARLA_SERVER"

// Config is the immutable environment configuration. Build one with
// DefaultConfig and adjust fields before constructing the environment;
// after New it is never mutated.
type Config struct {
	// ServerBinary is the path to the simulator launcher. Resolved from
	// the CARLA_SERVER environment variable when empty.
	ServerBinary string

	// City selects the map, e.g. "Town02"
	City string

	// Scenarios is the pool Reset draws from
	Scenarios []scenario.Scenario

	// File provides weather and map lookups for the scenarios
	File *scenario.File

	EnablePlanner             bool
	UseDepthCamera            bool
	DiscreteActions           bool
	Framestack                int // 1 or 2
	EarlyTerminateOnCollision bool
	Verbose                   bool

	// Camera render resolution and downsampled observation resolution
	RenderXRes int
	RenderYRes int
	XRes       int
	YRes       int

	Seed int64

	// Connection policy
	Host            string
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// DefaultConfig mirrors the stock environment setup: Town02 lane keeping,
// RGB camera, discrete actions, two stacked frames.
func DefaultConfig(f *scenario.File) Config {
	return Config{
		City:                      "Town02",
		Scenarios:                 f.Defaults(),
		File:                      f,
		EnablePlanner:             true,
		UseDepthCamera:            false,
		DiscreteActions:           true,
		Framestack:                2,
		EarlyTerminateOnCollision: true,
		RenderXRes:                800,
		RenderYRes:                600,
		XRes:                      80,
		YRes:                      80,
		Seed:                      1,
		Host:                      "localhost",
		ConnectAttempts:           5,
		ConnectDelay:              2 * time.Second,
	}
}

// ResolveServerBinary fills ServerBinary from CARLA_SERVER if unset and
// verifies the file exists. Called once at construction; its failure is a
// hard startup failure.
func (c *Config) ResolveServerBinary() error {
	if c.ServerBinary == "" {
		c.ServerBinary = os.Getenv(ServerBinaryEnv)
	}
	if c.ServerBinary == "" {
		return fmt.Errorf("%s environment variable is not set; point it at the simulator launcher", ServerBinaryEnv)
	}
	if _, err := os.Stat(c.ServerBinary); err != nil {
		return fmt.Errorf("simulator launcher %s not usable: %w", c.ServerBinary, err)
	}
	return nil
}

// Validate checks the configuration invariants
func (c *Config) Validate() error {
	if c.Framestack != 1 && c.Framestack != 2 {
		return fmt.Errorf("framestack must be 1 or 2, got %d", c.Framestack)
	}
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario is required")
	}
	if c.File == nil {
		return fmt.Errorf("scenario file is required")
	}
	if c.XRes <= 0 || c.YRes <= 0 || c.RenderXRes <= 0 || c.RenderYRes <= 0 {
		return fmt.Errorf("resolutions must be positive")
	}
	if c.RenderXRes < 2*c.XRes || c.RenderYRes < 2*c.YRes {
		return fmt.Errorf("render resolution %dx%d too small for %dx%d observations",
			c.RenderXRes, c.RenderYRes, c.XRes, c.YRes)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("connect attempts must be >= 1")
	}
	for _, s := range c.Scenarios {
		if s.City != c.City {
			return fmt.Errorf("scenario %s runs in %s, environment is configured for %s", s.Name, s.City, c.City)
		}
	}
	return nil
}

// ServerMap returns the simulator map path for the configured city
func (c *Config) ServerMap() string {
	return c.File.MapPath(c.City)
}
