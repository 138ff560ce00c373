package scenario

import (
	"os"
	"path/filepath"
	"testing"
)

const validFile = `
cities:
  Town02: Town02

weathers:
  WetNoon: 3
  ClearSunset: 14

scenarios:
  Lane_Keep_Town2:
    city: Town02
    start_pos_id: 36
    end_pos_id: 40
    max_steps: 2000
    weather_distribution: [WetNoon, ClearSunset]
  Straight_Town2:
    city: Town02
    start_pos_id: 47
    end_pos_id: 16
    max_steps: 1000

default_scenarios: [Lane_Keep_Town2]
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadValidFile(t *testing.T) {
	f, err := Load(writeTemp(t, "scenarios.yaml", validFile))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(f.Scenarios) != 2 {
		t.Errorf("expected 2 scenarios, got %d", len(f.Scenarios))
	}

	lane, ok := f.Scenarios["Lane_Keep_Town2"]
	if !ok {
		t.Fatal("missing Lane_Keep_Town2")
	}
	if lane.Name != "Lane_Keep_Town2" {
		t.Errorf("scenario name not backfilled: %q", lane.Name)
	}
	if lane.StartPosID != 36 || lane.EndPosID != 40 {
		t.Errorf("unexpected positions: start=%d end=%d", lane.StartPosID, lane.EndPosID)
	}

	ids := f.WeatherIDs(lane)
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 14 {
		t.Errorf("expected weather ids [3 14], got %v", ids)
	}

	if got := f.MapPath("Town02"); got != "/Game/Maps/Town02" {
		t.Errorf("unexpected map path %q", got)
	}
}

func TestDefaults(t *testing.T) {
	f, err := Load(writeTemp(t, "scenarios.yaml", validFile))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	defaults := f.Defaults()
	if len(defaults) != 1 || defaults[0].Name != "Lane_Keep_Town2" {
		t.Errorf("expected the one declared default, got %+v", defaults)
	}
}

func TestWeatherIDsFallsBackToDefaultPreset(t *testing.T) {
	f, err := Load(writeTemp(t, "scenarios.yaml", validFile))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	straight := f.Scenarios["Straight_Town2"]
	ids := f.WeatherIDs(straight)
	if len(ids) != 1 || ids[0] != 0 {
		t.Errorf("scenario without weathers should fall back to preset 0, got %v", ids)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file must be a load error")
	}
}

func TestLoadRejectsUnknownReferences(t *testing.T) {
	cases := map[string]string{
		"unknown city": `
cities: {Town02: Town02}
weathers: {WetNoon: 3}
scenarios:
  Bad: {city: Atlantis, start_pos_id: 1, end_pos_id: 2, max_steps: 100}
`,
		"unknown weather": `
cities: {Town02: Town02}
weathers: {WetNoon: 3}
scenarios:
  Bad: {city: Town02, start_pos_id: 1, end_pos_id: 2, max_steps: 100, weather_distribution: [Hurricane]}
`,
		"unknown default": `
cities: {Town02: Town02}
weathers: {WetNoon: 3}
scenarios:
  Good: {city: Town02, start_pos_id: 1, end_pos_id: 2, max_steps: 100}
default_scenarios: [Missing]
`,
		"zero max steps": `
cities: {Town02: Town02}
weathers: {WetNoon: 3}
scenarios:
  Bad: {city: Town02, start_pos_id: 1, end_pos_id: 2}
`,
	}

	for name, content := range cases {
		if _, err := Load(writeTemp(t, "scenarios.yaml", content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
