package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/logging"
)

var (
	cfgFile       string
	scenariosFile string
	logLevel      string
	jsonLogs      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "carla-gym",
	Short: "Driving environment adapter for the CARLA simulator",
	Long: `carla-gym wraps the CARLA driving simulator as an agent environment:
it launches and supervises the simulator process, connects a client over a
local socket, and exposes a reset/step interface with scenario and weather
selection.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.carla-gym/config)")
	rootCmd.PersistentFlags().StringVar(&scenariosFile, "scenarios", "configs/scenarios.yaml", "scenario description file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

// initConfig reads .env, the config file and environment variables
func initConfig() {
	// A .env next to the binary can carry CARLA_SERVER for local runs
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".carla-gym"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("server_binary", "CARLA_SERVER")

	if err := viper.ReadInConfig(); err == nil {
		if v := viper.GetString("scenarios"); v != "" && !rootCmd.PersistentFlags().Changed("scenarios") {
			scenariosFile = v
		}
		if v := viper.GetString("log_level"); v != "" && !rootCmd.PersistentFlags().Changed("log-level") {
			logLevel = v
		}
	}
}

// newLogger builds the CLI's logger from the global flags
func newLogger(component string) *logging.Logger {
	return logging.NewLogger(component, logging.ParseLevel(logLevel), jsonLogs)
}
