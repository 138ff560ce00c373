package env

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/carla"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/scenario"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/spaces"
)

// fakeServer pretends to be a spawned simulator process
type fakeServer struct {
	alive bool
	port  int
}

func (s *fakeServer) Alive() bool    { return s.alive }
func (s *fakeServer) WorldPort() int { return s.port }

// fakeSpawner records spawn and kill calls
type fakeSpawner struct {
	spawns int
	kills  int
	last   *fakeServer
}

func (s *fakeSpawner) Spawn(ctx context.Context, binary, mapPath string, port int) (Server, error) {
	s.spawns++
	s.last = &fakeServer{alive: true, port: port}
	return s.last, nil
}

func (s *fakeSpawner) Kill(srv Server) {
	s.kills++
	if fs, ok := srv.(*fakeServer); ok {
		fs.alive = false
	}
}

// fakeClient is a scripted simulator client
type fakeClient struct {
	connectErr   error
	startErrs    int // fail this many StartEpisode calls
	sendErr      error
	readErr      error
	measurements []*carla.Measurements
	readIdx      int
	controls     []*carla.VehicleControl
	episodes     int
	closed       bool
}

func (c *fakeClient) Connect(ctx context.Context) error { return c.connectErr }

func (c *fakeClient) StartEpisode(settings *carla.EpisodeSettings) (*carla.SceneDescription, error) {
	if c.startErrs > 0 {
		c.startErrs--
		return nil, errors.New("episode start rejected")
	}
	c.episodes++
	spots := make([]carla.Transform, 64)
	spots[36] = carla.Transform{X: 1000, Y: 2000}
	spots[40] = carla.Transform{X: 1100, Y: 2000}
	return &carla.SceneDescription{MapName: "Town02", PlayerStartSpots: spots}, nil
}

func (c *fakeClient) ReadMeasurements() (*carla.Measurements, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	if len(c.measurements) == 0 {
		return nil, errors.New("no scripted measurements")
	}
	m := c.measurements[c.readIdx]
	if c.readIdx < len(c.measurements)-1 {
		c.readIdx++
	}
	return m, nil
}

func (c *fakeClient) SendControl(control *carla.VehicleControl) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.controls = append(c.controls, control)
	return nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

const (
	testRenderRes = 8
	testObsRes    = 4
)

func rgbFrame() carla.Frame {
	return carla.Frame{
		Name:     cameraRGB,
		Width:    testRenderRes,
		Height:   testRenderRes,
		Channels: 3,
		Data:     make([]byte, testRenderRes*testRenderRes*3),
	}
}

func measurement(dist, speed float64) *carla.Measurements {
	return &carla.Measurements{
		ForwardSpeed:   speed,
		DistanceToGoal: dist,
		NextCommand:    carla.CommandLaneFollow,
		Frames:         []carla.Frame{rgbFrame()},
	}
}

func testScenarioFile() *scenario.File {
	return &scenario.File{
		Cities:   map[string]string{"Town02": "Town02"},
		Weathers: map[string]int{"WetNoon": 3, "ClearSunset": 14},
		Scenarios: map[string]scenario.Scenario{
			"Lane_Keep_Town2": {
				Name:                "Lane_Keep_Town2",
				City:                "Town02",
				StartPosID:          36,
				EndPosID:            40,
				MaxSteps:            100,
				WeatherDistribution: []string{"WetNoon", "ClearSunset"},
			},
		},
		DefaultScenarios: []string{"Lane_Keep_Town2"},
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(testScenarioFile())
	cfg.ServerBinary = fakeBinary(t)
	cfg.RenderXRes = testRenderRes
	cfg.RenderYRes = testRenderRes
	cfg.XRes = testObsRes
	cfg.YRes = testObsRes
	cfg.ConnectAttempts = 2
	cfg.ConnectDelay = time.Millisecond
	return cfg
}

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CarlaUE4.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

// newTestEnv wires an environment to a fake spawner and scripted client
func newTestEnv(t *testing.T, cfg Config, client *fakeClient) (*CarlaEnv, *fakeSpawner) {
	t.Helper()
	spawner := &fakeSpawner{}
	e, err := New(cfg,
		WithSpawner(spawner),
		WithDialerFactory(func(host string, port int) carla.Dialer {
			return func() carla.Client { return client }
		}),
	)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	return e, spawner
}

func TestObservationSpaceChannels(t *testing.T) {
	cases := []struct {
		name       string
		depth      bool
		framestack int
		channels   int
		low, high  float64
	}{
		{"rgb framestack 2", false, 2, 6, 0, 255},
		{"rgb framestack 1", false, 1, 3, 0, 255},
		{"depth framestack 2", true, 2, 2, -1, 1},
		{"depth framestack 1", true, 1, 1, -1, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.UseDepthCamera = tc.depth
			cfg.Framestack = tc.framestack
			e, _ := newTestEnv(t, cfg, &fakeClient{})

			img, ok := e.ObservationSpace().Spaces[0].(*spaces.Box)
			if !ok {
				t.Fatal("first tuple element should be the image Box")
			}
			if len(img.Shape) != 3 || img.Shape[2] != tc.channels {
				t.Errorf("expected %d channels, got shape %v", tc.channels, img.Shape)
			}
			if img.Low != tc.low || img.High != tc.high {
				t.Errorf("expected bounds (%g, %g), got (%g, %g)", tc.low, tc.high, img.Low, img.High)
			}

			cmd, ok := e.ObservationSpace().Spaces[1].(*spaces.Discrete)
			if !ok || cmd.N != NumCommands {
				t.Errorf("second tuple element should be Discrete(%d)", NumCommands)
			}
			vec, ok := e.ObservationSpace().Spaces[2].(*spaces.Box)
			if !ok || vec.Size() != 2 {
				t.Error("third tuple element should be a 2-vector Box")
			}
		})
	}
}

func TestActionSpace(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEnv(t, cfg, &fakeClient{})
	if d, ok := e.ActionSpace().(*spaces.Discrete); !ok || d.N != NumDiscreteActions {
		t.Errorf("discrete config should expose Discrete(%d), got %v", NumDiscreteActions, e.ActionSpace())
	}

	cfg2 := testConfig(t)
	cfg2.DiscreteActions = false
	e2, _ := newTestEnv(t, cfg2, &fakeClient{})
	if b, ok := e2.ActionSpace().(*spaces.Box); !ok || b.Size() != 2 {
		t.Errorf("continuous config should expose a 2-vector Box, got %v", e2.ActionSpace())
	}
}

func TestResetThenStepSpawnsOnce(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{
		measurement(100, 0),
		measurement(99, 1),
		measurement(98, 2),
	}}
	e, spawner := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, _, _, _, err := e.Step(ctx, 3); err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, _, _, _, err := e.Step(ctx, 3); err != nil {
		t.Fatalf("step: %v", err)
	}

	// At most one live process per environment instance
	if spawner.spawns != 1 {
		t.Errorf("expected exactly 1 spawn, got %d", spawner.spawns)
	}
}

func TestResetReusesLiveServerAcrossEpisodes(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{measurement(100, 0)}}
	e, spawner := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.Reset(ctx); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
	}
	if spawner.spawns != 1 {
		t.Errorf("live server should be reused, got %d spawns", spawner.spawns)
	}
	if client.episodes != 3 {
		t.Errorf("expected 3 episode starts, got %d", client.episodes)
	}
}

func TestResetRespawnsDeadServer(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{measurement(100, 0)}}
	e, spawner := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	spawner.last.alive = false

	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset after server death: %v", err)
	}
	if spawner.spawns != 2 {
		t.Errorf("dead server should trigger a respawn, got %d spawns", spawner.spawns)
	}
}

func TestResetRetriesAfterEpisodeStartFailure(t *testing.T) {
	client := &fakeClient{
		startErrs:    1,
		measurements: []*carla.Measurements{measurement(100, 0)},
	}
	e, spawner := newTestEnv(t, testConfig(t), client)

	if _, err := e.Reset(context.Background()); err != nil {
		t.Fatalf("reset should recover from one failed episode start: %v", err)
	}
	// First server was torn down, a fresh one spawned
	if spawner.kills != 1 || spawner.spawns != 2 {
		t.Errorf("expected 1 kill and 2 spawns, got %d kills %d spawns", spawner.kills, spawner.spawns)
	}
}

func TestStepBeforeResetFails(t *testing.T) {
	e, _ := newTestEnv(t, testConfig(t), &fakeClient{})
	if _, _, _, _, err := e.Step(context.Background(), 0); err == nil {
		t.Error("step before reset must fail")
	}
}

func TestStepRewardProgress(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{
		measurement(100, 0),
		measurement(95, 2),
	}}
	e, _ := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, reward, done, info, err := e.Step(ctx, 3)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	// 5m of progress plus 0.05 * 2 speed gain
	want := 5.0 + 0.1
	if diff := reward - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected reward %g, got %g", want, reward)
	}
	if done {
		t.Error("episode should still be running")
	}
	if info["step"] != 1 {
		t.Errorf("expected step 1 in info, got %v", info["step"])
	}
	if e.TotalReward() != reward {
		t.Errorf("total reward should accumulate, got %g", e.TotalReward())
	}
}

func TestStepGoalTermination(t *testing.T) {
	goal := measurement(0.1, 1)
	goal.NextCommand = carla.CommandReachGoal
	client := &fakeClient{measurements: []*carla.Measurements{
		measurement(5, 1),
		goal,
	}}
	e, _ := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, _, done, info, err := e.Step(ctx, 3)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !done {
		t.Error("reaching the goal should end the episode")
	}
	if info["outcome"] != string(outcomeGoal) {
		t.Errorf("expected goal outcome, got %v", info["outcome"])
	}
}

func TestStepCollisionTermination(t *testing.T) {
	crash := measurement(90, 0)
	crash.CollisionVehicles = 500

	run := func(earlyTerminate bool) bool {
		client := &fakeClient{measurements: []*carla.Measurements{
			measurement(100, 0),
			crash,
		}}
		cfg := testConfig(t)
		cfg.EarlyTerminateOnCollision = earlyTerminate
		e, _ := newTestEnv(t, cfg, client)

		ctx := context.Background()
		if _, err := e.Reset(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
		_, _, done, _, err := e.Step(ctx, 3)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		return done
	}

	if !run(true) {
		t.Error("collision with early termination enabled should end the episode")
	}
	if run(false) {
		t.Error("collision with early termination disabled should not end the episode")
	}
}

func TestStepTimeoutTermination(t *testing.T) {
	file := testScenarioFile()
	s := file.Scenarios["Lane_Keep_Town2"]
	s.MaxSteps = 2
	file.Scenarios["Lane_Keep_Town2"] = s

	cfg := testConfig(t)
	cfg.Scenarios = file.Defaults()
	cfg.File = file

	client := &fakeClient{measurements: []*carla.Measurements{
		measurement(100, 0),
		measurement(100, 0),
	}}
	e, _ := newTestEnv(t, cfg, client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	_, _, done, _, err := e.Step(ctx, 0)
	if err != nil || done {
		t.Fatalf("step 1 should keep running, done=%v err=%v", done, err)
	}
	_, _, done, info, err := e.Step(ctx, 0)
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if !done || info["outcome"] != string(outcomeTimeout) {
		t.Errorf("expected timeout at max steps, done=%v outcome=%v", done, info["outcome"])
	}
}

func TestStepClientErrorIsFatal(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{measurement(100, 0)}}
	e, _ := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	client.sendErr = errors.New("broken pipe")
	if _, _, _, _, err := e.Step(ctx, 3); err == nil {
		t.Fatal("client error must surface from Step")
	}
	if !client.closed {
		t.Error("fatal step error should close the client")
	}
	// The episode is invalid; further steps must refuse to run
	if _, _, _, _, err := e.Step(ctx, 3); err == nil {
		t.Error("step after a fatal error must fail until Reset")
	}
}

func TestStepRecordsControl(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{
		measurement(100, 0),
		measurement(99, 1),
	}}
	e, _ := newTestEnv(t, testConfig(t), client)

	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, _, _, _, err := e.Step(ctx, 3); err != nil {
		t.Fatalf("step: %v", err)
	}

	if len(client.controls) != 1 {
		t.Fatalf("expected 1 control sent, got %d", len(client.controls))
	}
	c := client.controls[0]
	// Action 3 is full throttle straight ahead
	if c.Throttle != 1.0 || c.Steer != 0.0 || c.Brake != 0.0 {
		t.Errorf("unexpected control for action 3: %+v", c)
	}
}

func TestFirstObservationStacksDuplicateFrame(t *testing.T) {
	client := &fakeClient{measurements: []*carla.Measurements{measurement(100, 0)}}
	e, _ := newTestEnv(t, testConfig(t), client)

	obs, err := e.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if obs.Image.Channels != 6 {
		t.Errorf("framestack 2 should yield 6 channels on the first observation, got %d", obs.Image.Channels)
	}
	if obs.Metrics.Len() != 2 {
		t.Errorf("expected 2-vector metrics, got len %d", obs.Metrics.Len())
	}
	if obs.Metrics.AtVec(1) != 100 {
		t.Errorf("expected distance 100 in metrics vector, got %g", obs.Metrics.AtVec(1))
	}
}

func TestNewRequiresServerBinary(t *testing.T) {
	t.Setenv(ServerBinaryEnv, "")
	cfg := testConfig(t)
	cfg.ServerBinary = ""
	if _, err := New(cfg); err == nil {
		t.Error("missing CARLA_SERVER must fail construction")
	}
}

func TestNewRejectsBadFramestack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Framestack = 3
	if _, err := New(cfg); err == nil {
		t.Error("framestack 3 must be rejected")
	}
}
