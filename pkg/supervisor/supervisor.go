// Package supervisor launches the external simulator binary and guarantees
// that every spawned process group is killed by the time the hosting
// program exits.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/logging"
)

const (
	// WorldPortMin and WorldPortMax bound the randomly chosen simulator port
	WorldPortMin = 10000
	WorldPortMax = 60000
)

// Killer force-kills one process group. Injectable so tests can record
// calls instead of signaling real processes.
type Killer func(pgid int) error

// DefaultKiller sends SIGKILL to the whole group
func DefaultKiller(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// ServerProcess is a handle to one spawned simulator server
type ServerProcess struct {
	PID  int
	PGID int
	Port int

	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
}

// WorldPort returns the world port the server was launched on
func (p *ServerProcess) WorldPort() int {
	return p.Port
}

// Alive reports whether the server process is still running
func (p *ServerProcess) Alive() bool {
	proc, err := process.NewProcess(int32(p.PID))
	if err == nil {
		running, err := proc.IsRunning()
		if err == nil {
			return running
		}
	}
	// Fall back to signal 0 when procfs is unavailable
	osProc, err := os.FindProcess(p.PID)
	if err != nil {
		return false
	}
	return osProc.Signal(syscall.Signal(0)) == nil
}

// Wait reaps the process. Safe to call more than once.
func (p *ServerProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Supervisor owns the process-wide registry of spawned simulator process
// groups. One instance per program; register its KillAll with the shutdown
// manager so cleanup runs exactly once at exit.
type Supervisor struct {
	mu       sync.Mutex
	registry map[int]struct{}
	kill     Killer
	log      *logging.Logger
}

// New creates a supervisor using the real process-group killer
func New(log *logging.Logger) *Supervisor {
	return NewWithKiller(log, DefaultKiller)
}

// NewWithKiller creates a supervisor with an injected killer
func NewWithKiller(log *logging.Logger, kill Killer) *Supervisor {
	if log == nil {
		log = logging.NewLogger("supervisor", logging.INFO, false)
	}
	return &Supervisor{
		registry: make(map[int]struct{}),
		kill:     kill,
		log:      log,
	}
}

// Spawn launches the simulator binary as a detached process-group leader
// listening on the given world port, with its output discarded. The new
// group id is registered before Spawn returns, so the process cannot leak
// even if the caller's connection attempt fails. Fails fast, without
// spawning, when the binary does not exist.
func (s *Supervisor) Spawn(ctx context.Context, binary, mapPath string, port int) (*ServerProcess, error) {
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("simulator binary not found at %s: %w", binary, err)
	}

	cmd := exec.CommandContext(ctx, binary, mapPath,
		"-windowed", "-ResX=400", "-ResY=300",
		"-carla-server",
		fmt.Sprintf("-carla-world-port=%d", port),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group; survives the parent, killed by group
		Pgid:    0,
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start simulator: %w", err)
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Setpgid makes the child its own leader
		pgid = pid
	}

	s.register(pgid)

	s.log.Info("Initialized new simulator server", map[string]interface{}{
		"pid":  pid,
		"pgid": pgid,
		"port": port,
		"map":  mapPath,
	})

	return &ServerProcess{PID: pid, PGID: pgid, Port: port, cmd: cmd}, nil
}

func (s *Supervisor) register(pgid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[pgid] = struct{}{}
}

// Registered returns a snapshot of the registered process group ids
func (s *Supervisor) Registered() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.registry))
	for pgid := range s.registry {
		out = append(out, pgid)
	}
	return out
}

// Kill force-kills one server's process group and removes it from the
// registry. Errors from an already-dead group are swallowed.
func (s *Supervisor) Kill(p *ServerProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked(p.PGID)
	delete(s.registry, p.PGID)
}

// KillAll force-kills every registered process group and clears the
// registry. Idempotent and best-effort: a group that already exited must
// not abort cleanup of the remaining ones.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.registry) == 0 {
		return
	}
	s.log.Info("Killing live simulator processes", map[string]interface{}{
		"pgids": len(s.registry),
	})
	for pgid := range s.registry {
		s.killLocked(pgid)
		delete(s.registry, pgid)
	}
}

func (s *Supervisor) killLocked(pgid int) {
	if err := s.kill(pgid); err != nil {
		s.log.Debug("Process group already gone", map[string]interface{}{
			"pgid":  pgid,
			"error": err.Error(),
		})
	}
}

// ShutdownHook adapts KillAll for a shutdown manager
func (s *Supervisor) ShutdownHook() func(context.Context) error {
	return func(ctx context.Context) error {
		s.KillAll()
		return nil
	}
}

// RandomWorldPort picks a port in the simulator's accepted range
func RandomWorldPort(rng *rand.Rand) int {
	return WorldPortMin + rng.Intn(WorldPortMax-WorldPortMin+1)
}
