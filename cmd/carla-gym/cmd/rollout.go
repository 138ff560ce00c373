package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/env"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/logging"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/metrics"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/scenario"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/shutdown"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/supervisor"
)

var (
	rolloutEpisodes   int
	rolloutSeed       int64
	rolloutDepth      bool
	rolloutContinuous bool
	rolloutFramestack int
	metricsAddr       string
)

// rolloutCmd runs random-policy episodes against a live simulator
var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Run random-policy episodes against the simulator",
	Long: `Launches the simulator (CARLA_SERVER must point at the launcher
script), connects to it and runs a number of episodes with uniformly random
actions, printing a per-episode summary. Useful as a smoke test of the
full adapter loop.`,
	RunE: runRollout,
}

func init() {
	rootCmd.AddCommand(rolloutCmd)
	rolloutCmd.Flags().IntVar(&rolloutEpisodes, "episodes", 5, "number of episodes to run")
	rolloutCmd.Flags().Int64Var(&rolloutSeed, "seed", 1, "random seed")
	rolloutCmd.Flags().BoolVar(&rolloutDepth, "depth-camera", false, "use the depth camera instead of RGB")
	rolloutCmd.Flags().BoolVar(&rolloutContinuous, "continuous", false, "use the continuous action space")
	rolloutCmd.Flags().IntVar(&rolloutFramestack, "framestack", 2, "frames stacked per observation (1 or 2)")
	rolloutCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

func runRollout(cmd *cobra.Command, args []string) error {
	log := newLogger("rollout")

	file, err := scenario.Load(scenariosFile)
	if err != nil {
		return err
	}

	cfg := env.DefaultConfig(file)
	cfg.ServerBinary = viper.GetString("server_binary")
	cfg.UseDepthCamera = rolloutDepth
	cfg.DiscreteActions = !rolloutContinuous
	cfg.Framestack = rolloutFramestack
	cfg.Seed = rolloutSeed

	// The supervisor lives here so its kill-all hook runs at exit no
	// matter how the rollout ends.
	sup := supervisor.New(log.WithField("role", "supervisor"))
	sd := shutdown.New(10 * time.Second)
	sd.Register(sup.ShutdownHook())
	defer sd.Shutdown()

	met := metrics.New()
	if metricsAddr != "" {
		serveMetrics(met, log)
	}

	environment, err := env.New(cfg,
		env.WithLogger(log.WithField("role", "env")),
		env.WithSpawner(env.NewSupervisorSpawner(sup)),
		env.WithMetrics(met),
	)
	if err != nil {
		return err
	}
	defer environment.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(rolloutSeed))
	actionSpace := environment.ActionSpace()

	type result struct {
		episode int
		steps   int
		reward  float64
		outcome string
	}
	var results []result

	for ep := 1; ep <= rolloutEpisodes; ep++ {
		if ctx.Err() != nil {
			break
		}
		if _, err := environment.Reset(ctx); err != nil {
			return fmt.Errorf("episode %d reset: %w", ep, err)
		}

		outcome := "interrupted"
		for ctx.Err() == nil {
			_, _, done, info, err := environment.Step(ctx, actionSpace.Sample(rng))
			if err != nil {
				return fmt.Errorf("episode %d step: %w", ep, err)
			}
			if done {
				outcome = fmt.Sprintf("%v", info["outcome"])
				break
			}
		}
		results = append(results, result{
			episode: ep,
			steps:   environment.NumSteps(),
			reward:  environment.TotalReward(),
			outcome: outcome,
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Episode", "Steps", "Total Reward", "Outcome")
	for _, r := range results {
		table.Append(
			fmt.Sprintf("%d", r.episode),
			fmt.Sprintf("%d", r.steps),
			fmt.Sprintf("%.2f", r.reward),
			r.outcome,
		)
	}
	table.Render()
	return nil
}

// serveMetrics exposes /metrics and /healthz in the background
func serveMetrics(met *metrics.EnvMetrics, log *logging.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", met)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	log.Info("Serving metrics", map[string]interface{}{"addr": metricsAddr})
	go func() {
		if err := http.ListenAndServe(metricsAddr, router); err != nil {
			log.Error("Metrics server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}
