package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML run description for the solver demo.
type Config struct {
	Ranks    int     `yaml:"ranks"`
	Grid     [3]int  `yaml:"grid"`
	ProcGrid [3]int  `yaml:"procgrid"`
	Periodic [3]bool `yaml:"periodic"`
	Halo     int     `yaml:"halo"`

	Valency []float64 `yaml:"valency"`
	Beta    float64   `yaml:"beta"`
	Epsilon float64   `yaml:"epsilon"`

	RelTol float64 `yaml:"reltol"`
	AbsTol float64 `yaml:"abstol"`
	MaxIts int     `yaml:"maxits"`
	NCheck int     `yaml:"ncheck"`
}

// LoadConfig reads and validates a run description.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{
		Ranks:    1,
		Periodic: [3]bool{true, true, true},
		Halo:     1,
		Valency:  []float64{+1, -1},
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects descriptions the domain construction would also refuse,
// with friendlier messages.
func (c *Config) Validate() error {
	if c.Ranks < 1 {
		return fmt.Errorf("ranks must be at least 1, got %d", c.Ranks)
	}
	for a := 0; a < 3; a++ {
		if c.Grid[a] < 1 {
			return fmt.Errorf("grid extent %d must be positive, got %d", a, c.Grid[a])
		}
	}
	if len(c.Valency) < 1 {
		return fmt.Errorf("at least one charge species required")
	}
	return nil
}
