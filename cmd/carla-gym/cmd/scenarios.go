package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/scenario"
)

// scenariosCmd groups scenario file inspection commands
var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Inspect the scenario description file",
}

var scenariosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List declared driving scenarios",
	RunE:  runScenariosList,
}

var scenariosWeathersCmd = &cobra.Command{
	Use:   "weathers",
	Short: "List declared weather presets",
	RunE:  runScenariosWeathers,
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
	scenariosCmd.AddCommand(scenariosListCmd)
	scenariosCmd.AddCommand(scenariosWeathersCmd)
}

func runScenariosList(cmd *cobra.Command, args []string) error {
	file, err := scenario.Load(scenariosFile)
	if err != nil {
		return err
	}

	defaults := make(map[string]bool, len(file.DefaultScenarios))
	for _, name := range file.DefaultScenarios {
		defaults[name] = true
	}

	names := make([]string, 0, len(file.Scenarios))
	for name := range file.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "City", "Start", "End", "Max Steps", "Traffic", "Weathers", "Default")
	for _, name := range names {
		s := file.Scenarios[name]
		isDefault := ""
		if defaults[name] {
			isDefault = "yes"
		}
		table.Append(
			name,
			s.City,
			fmt.Sprintf("%d", s.StartPosID),
			fmt.Sprintf("%d", s.EndPosID),
			fmt.Sprintf("%d", s.MaxSteps),
			fmt.Sprintf("%dv/%dp", s.NumVehicles, s.NumPedestrians),
			strings.Join(s.WeatherDistribution, ", "),
			isDefault,
		)
	}
	table.Render()
	return nil
}

func runScenariosWeathers(cmd *cobra.Command, args []string) error {
	file, err := scenario.Load(scenariosFile)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(file.Weathers))
	for name := range file.Weathers {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Preset", "Simulator ID")
	for _, name := range names {
		table.Append(name, fmt.Sprintf("%d", file.Weathers[name]))
	}
	table.Render()
	return nil
}
