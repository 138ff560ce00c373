package main

import (
	"os"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/cmd/carla-gym/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
