// Package scenario loads the driving scenario description file: cities,
// named weather presets, and named scenarios with start/end positions.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one named driving task: a city, start and end player spots,
// traffic counts, and the weather presets it may run under.
type Scenario struct {
	Name                string   `yaml:"-"`
	City                string   `yaml:"city"`
	StartPosID          int      `yaml:"start_pos_id"`
	EndPosID            int      `yaml:"end_pos_id"`
	NumVehicles         int      `yaml:"num_vehicles"`
	NumPedestrians      int      `yaml:"num_pedestrians"`
	MaxSteps            int      `yaml:"max_steps"`
	WeatherDistribution []string `yaml:"weather_distribution"`
}

// File is the parsed scenario description file
type File struct {
	Cities           map[string]string   `yaml:"cities"`   // id -> map path suffix
	Weathers         map[string]int      `yaml:"weathers"` // preset name -> simulator weather id
	Scenarios        map[string]Scenario `yaml:"scenarios"`
	DefaultScenarios []string            `yaml:"default_scenarios"`
}

// Load reads and validates a scenario file. A missing or malformed file is
// fatal to environment construction; nothing here is retried.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed scenario file %s: %w", path, err)
	}

	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
	}

	for name, s := range f.Scenarios {
		s.Name = name
		f.Scenarios[name] = s
	}

	return &f, nil
}

func (f *File) validate() error {
	if len(f.Cities) == 0 {
		return fmt.Errorf("no cities declared")
	}
	if len(f.Scenarios) == 0 {
		return fmt.Errorf("no scenarios declared")
	}
	for name, s := range f.Scenarios {
		if _, ok := f.Cities[s.City]; !ok {
			return fmt.Errorf("scenario %s references unknown city %q", name, s.City)
		}
		if s.MaxSteps <= 0 {
			return fmt.Errorf("scenario %s must declare max_steps > 0", name)
		}
		for _, w := range s.WeatherDistribution {
			if _, ok := f.Weathers[w]; !ok {
				return fmt.Errorf("scenario %s references unknown weather preset %q", name, w)
			}
		}
	}
	for _, name := range f.DefaultScenarios {
		if _, ok := f.Scenarios[name]; !ok {
			return fmt.Errorf("default scenario %q is not declared", name)
		}
	}
	return nil
}

// Defaults resolves the default scenario list. Falls back to every declared
// scenario when the file names no defaults.
func (f *File) Defaults() []Scenario {
	names := f.DefaultScenarios
	if len(names) == 0 {
		names = make([]string, 0, len(f.Scenarios))
		for name := range f.Scenarios {
			names = append(names, name)
		}
	}
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		out = append(out, f.Scenarios[name])
	}
	return out
}

// WeatherIDs maps a scenario's weather distribution to simulator preset ids
func (f *File) WeatherIDs(s Scenario) []int {
	out := make([]int, 0, len(s.WeatherDistribution))
	for _, name := range s.WeatherDistribution {
		out = append(out, f.Weathers[name])
	}
	if len(out) == 0 {
		out = append(out, 0) // simulator default weather
	}
	return out
}

// MapPath returns the simulator map path for a city id
func (f *File) MapPath(city string) string {
	return "/Game/Maps/" + f.Cities[city]
}
