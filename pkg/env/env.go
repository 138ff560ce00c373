package env

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/carla"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/logging"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/metrics"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/scenario"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/spaces"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/supervisor"
)

// Server is a handle to a live simulator process
type Server interface {
	Alive() bool
	WorldPort() int
}

// Spawner launches simulator servers and cleans them up. The supervisor
// package provides the real one; tests plug in fakes.
type Spawner interface {
	Spawn(ctx context.Context, binary, mapPath string, port int) (Server, error)
	Kill(srv Server)
}

// DialerFactory builds a dialer bound to the spawned server's port
type DialerFactory func(host string, port int) carla.Dialer

// NewSupervisorSpawner wraps a process supervisor as a Spawner, letting the
// hosting program own the supervisor (and register its cleanup hook) while
// the environment drives spawning.
func NewSupervisorSpawner(sup *supervisor.Supervisor) Spawner {
	return supervisorSpawner{sup: sup}
}

// supervisorSpawner adapts a Supervisor to the Spawner interface
type supervisorSpawner struct {
	sup *supervisor.Supervisor
}

func (s supervisorSpawner) Spawn(ctx context.Context, binary, mapPath string, port int) (Server, error) {
	return s.sup.Spawn(ctx, binary, mapPath, port)
}

func (s supervisorSpawner) Kill(srv Server) {
	if proc, ok := srv.(*supervisor.ServerProcess); ok {
		s.sup.Kill(proc)
	}
}

// CarlaEnv is the agent-facing driving environment. It is uninitialized
// until the first Reset spawns a simulator and connects to it; afterwards
// it stays running, ready for further Reset calls, until Close.
//
// All calls are synchronous and single-threaded; CarlaEnv is not safe for
// concurrent use.
type CarlaEnv struct {
	config    Config
	log       *logging.Logger
	met       *metrics.EnvMetrics
	spawner   Spawner
	dialerFor DialerFactory
	rng       *rand.Rand

	obsSpace *spaces.Tuple
	actSpace spaces.Space

	server Server
	client carla.Client

	episodeID       string
	numSteps        int
	totalReward     float64
	prevMeasurement *carla.Measurements
	prevImage       *Image
	scenario        scenario.Scenario
	weatherID       int
	startPos        carla.Transform
	endPos          carla.Transform
	startCoord      [2]float64
	endCoord        [2]float64
}

// Option customizes environment construction
type Option func(*CarlaEnv)

// WithLogger sets the logger
func WithLogger(log *logging.Logger) Option {
	return func(e *CarlaEnv) { e.log = log }
}

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.EnvMetrics) Option {
	return func(e *CarlaEnv) { e.met = m }
}

// WithSpawner replaces the process spawner
func WithSpawner(s Spawner) Option {
	return func(e *CarlaEnv) { e.spawner = s }
}

// WithDialerFactory replaces the client dialer
func WithDialerFactory(f DialerFactory) Option {
	return func(e *CarlaEnv) { e.dialerFor = f }
}

// New validates the configuration and builds the environment. Nothing is
// spawned until Reset. A missing simulator launcher or malformed
// configuration fails here, fast.
func New(config Config, opts ...Option) (*CarlaEnv, error) {
	if err := config.ResolveServerBinary(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment config: %w", err)
	}

	e := &CarlaEnv{
		config:   config,
		rng:      rand.New(rand.NewSource(config.Seed)),
		obsSpace: buildObservationSpace(config),
		actSpace: buildActionSpace(config),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil {
		level := logging.INFO
		if config.Verbose {
			level = logging.DEBUG
		}
		e.log = logging.NewLogger("carla-env", level, false)
	}
	if e.spawner == nil {
		e.spawner = supervisorSpawner{sup: supervisor.New(e.log.WithField("role", "supervisor"))}
	}
	if e.dialerFor == nil {
		e.dialerFor = func(host string, port int) carla.Dialer {
			return carla.NewTCPDialer(host, port)
		}
	}

	return e, nil
}

func buildObservationSpace(c Config) *spaces.Tuple {
	channels, low, high := 3, 0.0, 255.0
	if c.UseDepthCamera {
		channels, low, high = 1, -1.0, 1.0
	}
	return spaces.NewTuple(
		spaces.NewBox(low, high, c.YRes, c.XRes, channels*c.Framestack),
		spaces.NewDiscrete(NumCommands),
		spaces.NewBox(-128.0, 128.0, 2),
	)
}

func buildActionSpace(c Config) spaces.Space {
	if c.DiscreteActions {
		return spaces.NewDiscrete(NumDiscreteActions)
	}
	return spaces.NewBox(-1.0, 1.0, 2)
}

// ObservationSpace describes the observation tuple
func (e *CarlaEnv) ObservationSpace() *spaces.Tuple {
	return e.obsSpace
}

// ActionSpace describes valid actions
func (e *CarlaEnv) ActionSpace() spaces.Space {
	return e.actSpace
}

// Reset starts a new episode, spawning a simulator server first if none is
// alive. A failed episode start tears the server down and retries once with
// a fresh one before giving up.
func (e *CarlaEnv) Reset(ctx context.Context) (Observation, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		obs, err := e.resetEpisode(ctx)
		if err == nil {
			return obs, nil
		}
		lastErr = err
		e.log.Error("Error during reset, clearing server state", map[string]interface{}{
			"error": err.Error(),
		})
		e.clearServerState()
	}
	return Observation{}, fmt.Errorf("reset failed: %w", lastErr)
}

func (e *CarlaEnv) resetEpisode(ctx context.Context) (Observation, error) {
	if e.server == nil || !e.server.Alive() {
		e.clearServerState()
		port := supervisor.RandomWorldPort(e.rng)
		e.log.Info("Initializing new simulator server", map[string]interface{}{"port": port})
		srv, err := e.spawner.Spawn(ctx, e.config.ServerBinary, e.config.ServerMap(), port)
		if err != nil {
			return Observation{}, err
		}
		e.server = srv
		if e.met != nil {
			e.met.ServerSpawns.Inc()
		}
	}

	if e.client == nil {
		client, err := carla.Dial(ctx, e.countingDialer(), e.config.ConnectAttempts, e.config.ConnectDelay, e.log)
		if err != nil {
			return Observation{}, err
		}
		e.client = client
	}

	e.scenario = e.config.Scenarios[e.rng.Intn(len(e.config.Scenarios))]
	weatherIDs := e.config.File.WeatherIDs(e.scenario)
	e.weatherID = weatherIDs[e.rng.Intn(len(weatherIDs))]

	scene, err := e.client.StartEpisode(e.episodeSettings())
	if err != nil {
		return Observation{}, fmt.Errorf("failed to start episode: %w", err)
	}
	e.recordPositions(scene)

	e.episodeID = uuid.New().String()
	e.numSteps = 0
	e.totalReward = 0
	e.prevMeasurement = nil
	e.prevImage = nil

	m, err := e.client.ReadMeasurements()
	if err != nil {
		return Observation{}, fmt.Errorf("failed to read first measurements: %w", err)
	}
	obs, img, err := e.buildObservation(m)
	if err != nil {
		return Observation{}, err
	}
	e.prevMeasurement = m
	e.prevImage = img

	if e.met != nil {
		e.met.EpisodesStarted.Inc()
	}
	e.log.Info("Starting new episode", map[string]interface{}{
		"episode_id": e.episodeID,
		"scenario":   e.scenario.Name,
		"weather_id": e.weatherID,
		"start":      e.startCoord,
		"end":        e.endCoord,
	})
	return obs, nil
}

// countingDialer wraps the configured dialer with connect metrics
func (e *CarlaEnv) countingDialer() carla.Dialer {
	dialer := e.dialerFor(e.config.Host, e.server.WorldPort())
	if e.met == nil {
		return dialer
	}
	return func() carla.Client {
		e.met.ConnectAttempts.Inc()
		return &countingClient{Client: dialer(), met: e.met}
	}
}

type countingClient struct {
	carla.Client
	met *metrics.EnvMetrics
}

func (c *countingClient) Connect(ctx context.Context) error {
	err := c.Client.Connect(ctx)
	if err != nil {
		c.met.ConnectFailures.Inc()
	}
	return err
}

func (e *CarlaEnv) episodeSettings() *carla.EpisodeSettings {
	camera := carla.CameraSpec{
		Name:           cameraRGB,
		PostProcessing: "SceneFinal",
		ImageSizeX:     e.config.RenderXRes,
		ImageSizeY:     e.config.RenderYRes,
		FOV:            90.0,
		PositionX:      2.0,
		PositionZ:      1.4,
	}
	if e.config.UseDepthCamera {
		camera.Name = cameraDepth
		camera.PostProcessing = "Depth"
	}
	return &carla.EpisodeSettings{
		SynchronousMode:     true,
		SendNonPlayerInfo:   true,
		NumberOfVehicles:    e.scenario.NumVehicles,
		NumberOfPedestrians: e.scenario.NumPedestrians,
		WeatherID:           e.weatherID,
		QualityLevel:        "Low",
		Seed:                e.config.Seed,
		PlayerStartSpot:     e.scenario.StartPosID,
		GoalSpot:            e.scenario.EndPosID,
		Cameras:             []carla.CameraSpec{camera},
	}
}

// recordPositions captures start/goal transforms and their map-grid
// coordinates (world units divided by 100, as the planner counts them).
func (e *CarlaEnv) recordPositions(scene *carla.SceneDescription) {
	spots := scene.PlayerStartSpots
	if e.scenario.StartPosID < len(spots) {
		e.startPos = spots[e.scenario.StartPosID]
	}
	if e.scenario.EndPosID < len(spots) {
		e.endPos = spots[e.scenario.EndPosID]
	}
	e.startCoord = [2]float64{e.startPos.X / 100, e.startPos.Y / 100}
	e.endCoord = [2]float64{e.endPos.X / 100, e.endPos.Y / 100}
}

// Step sends one action to the simulator and returns the resulting
// observation, reward, done flag and diagnostics. A client error here is
// fatal to the episode: it is returned to the caller, never retried, and
// the next Reset starts clean.
func (e *CarlaEnv) Step(ctx context.Context, action interface{}) (Observation, float64, bool, Info, error) {
	if e.client == nil || e.prevMeasurement == nil {
		return Observation{}, 0, false, nil, fmt.Errorf("environment not running: call Reset first")
	}

	control, err := e.translateAction(action)
	if err != nil {
		return Observation{}, 0, false, nil, err
	}

	if err := e.client.SendControl(control); err != nil {
		return Observation{}, 0, false, nil, e.stepFailure(err)
	}
	m, err := e.client.ReadMeasurements()
	if err != nil {
		return Observation{}, 0, false, nil, e.stepFailure(err)
	}

	e.numSteps++
	reward := e.computeReward(e.prevMeasurement, m)
	e.totalReward += reward
	outcome := e.checkDone(e.prevMeasurement, m)

	obs, img, err := e.buildObservation(m)
	if err != nil {
		return Observation{}, 0, false, nil, e.stepFailure(err)
	}

	info := Info{
		"episode_id":       e.episodeID,
		"step":             e.numSteps,
		"x":                m.Player.X,
		"y":                m.Player.Y,
		"forward_speed":    m.ForwardSpeed,
		"distance_to_goal": e.distanceToGoal(m),
		"next_command":     string(e.nextCommand(m)),
		"weather_id":       e.weatherID,
		"current_scenario": e.scenario.Name,
		"reward":           reward,
		"total_reward":     e.totalReward,
		"outcome":          string(outcome),
	}

	e.prevMeasurement = m
	e.prevImage = img

	if e.met != nil {
		e.met.StepsTotal.Inc()
	}

	done := outcome != outcomeRunning
	if done {
		if e.met != nil {
			e.met.EpisodesFinished.WithLabelValues(string(outcome)).Inc()
			e.met.EpisodeReward.Observe(e.totalReward)
			e.met.EpisodeLength.Observe(float64(e.numSteps))
		}
		e.log.Info("Episode finished", map[string]interface{}{
			"episode_id":   e.episodeID,
			"outcome":      string(outcome),
			"steps":        e.numSteps,
			"total_reward": e.totalReward,
		})
	}
	return obs, reward, done, info, nil
}

// stepFailure invalidates the running episode after a fatal client error.
// Mid-episode simulator state is unrecoverable through this adapter, so the
// connection is dropped and the next Reset reconnects from scratch.
func (e *CarlaEnv) stepFailure(err error) error {
	if e.met != nil {
		e.met.StepErrors.Inc()
	}
	e.log.Error("Fatal client error during step", map[string]interface{}{
		"episode_id": e.episodeID,
		"error":      err.Error(),
	})
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
	e.prevMeasurement = nil
	e.prevImage = nil
	return fmt.Errorf("episode aborted by client error: %w", err)
}

// clearServerState closes the client and kills the spawned server, if any
func (e *CarlaEnv) clearServerState() {
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
	if e.server != nil {
		e.spawner.Kill(e.server)
		e.server = nil
	}
	e.prevMeasurement = nil
	e.prevImage = nil
}

// Close shuts the environment down, killing its simulator server
func (e *CarlaEnv) Close() error {
	e.clearServerState()
	return nil
}

// EpisodeID returns the identifier of the current episode
func (e *CarlaEnv) EpisodeID() string {
	return e.episodeID
}

// NumSteps returns the step count of the current episode
func (e *CarlaEnv) NumSteps() int {
	return e.numSteps
}

// TotalReward returns the reward accumulated in the current episode
func (e *CarlaEnv) TotalReward() float64 {
	return e.totalReward
}
