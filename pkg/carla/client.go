package carla

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// Client is the capability interface the environment needs from a simulator
// client. The real simulator sits behind TCPClient; tests plug in fakes.
type Client interface {
	// Connect opens the connection to the simulator
	Connect(ctx context.Context) error

	// StartEpisode configures and starts a new episode
	StartEpisode(settings *EpisodeSettings) (*SceneDescription, error)

	// ReadMeasurements blocks for the next telemetry frame
	ReadMeasurements() (*Measurements, error)

	// SendControl sends a vehicle control command
	SendControl(control *VehicleControl) error

	// Close tears down the connection
	Close() error
}

const (
	// DefaultDialTimeout bounds a single connection attempt
	DefaultDialTimeout = 10 * time.Second

	// DefaultRoundTripTimeout bounds each send/receive against the
	// simulator. An unresponsive simulator surfaces as an error instead of
	// blocking the caller forever.
	DefaultRoundTripTimeout = 60 * time.Second

	// maxFrameSize rejects corrupt length prefixes before allocating
	maxFrameSize = 64 << 20
)

// message types on the wire
const (
	msgEpisodeStart     = "episode_start"
	msgSceneDescription = "scene_description"
	msgControl          = "control"
	msgMeasurements     = "measurements"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TCPClient speaks the simulator's wire protocol: uint32 little-endian
// length prefix followed by a JSON envelope.
type TCPClient struct {
	host        string
	port        int
	dialTimeout time.Duration
	rtTimeout   time.Duration
	conn        net.Conn
}

// TCPClientOption configures a TCPClient
type TCPClientOption func(*TCPClient)

// WithDialTimeout overrides the connection attempt timeout
func WithDialTimeout(d time.Duration) TCPClientOption {
	return func(c *TCPClient) { c.dialTimeout = d }
}

// WithRoundTripTimeout overrides the per-message I/O deadline
func WithRoundTripTimeout(d time.Duration) TCPClientOption {
	return func(c *TCPClient) { c.rtTimeout = d }
}

// NewTCPClient creates a client bound to host:port. The connection is not
// opened until Connect.
func NewTCPClient(host string, port int, opts ...TCPClientOption) *TCPClient {
	c := &TCPClient{
		host:        host,
		port:        port,
		dialTimeout: DefaultDialTimeout,
		rtTimeout:   DefaultRoundTripTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the TCP connection to the simulator
func (c *TCPClient) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.host, c.port))
	if err != nil {
		return fmt.Errorf("failed to connect to simulator at %s:%d: %w", c.host, c.port, err)
	}
	c.conn = conn
	return nil
}

// StartEpisode sends the episode settings and waits for the scene description
func (c *TCPClient) StartEpisode(settings *EpisodeSettings) (*SceneDescription, error) {
	if err := c.write(msgEpisodeStart, settings); err != nil {
		return nil, fmt.Errorf("failed to start episode: %w", err)
	}
	env, err := c.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read scene description: %w", err)
	}
	if env.Type != msgSceneDescription {
		return nil, fmt.Errorf("unexpected message %q, want %q", env.Type, msgSceneDescription)
	}
	var scene SceneDescription
	if err := json.Unmarshal(env.Payload, &scene); err != nil {
		return nil, fmt.Errorf("malformed scene description: %w", err)
	}
	return &scene, nil
}

// ReadMeasurements blocks for the next telemetry frame
func (c *TCPClient) ReadMeasurements() (*Measurements, error) {
	env, err := c.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read measurements: %w", err)
	}
	if env.Type != msgMeasurements {
		return nil, fmt.Errorf("unexpected message %q, want %q", env.Type, msgMeasurements)
	}
	var m Measurements
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, fmt.Errorf("malformed measurements: %w", err)
	}
	return &m, nil
}

// SendControl sends a vehicle control command
func (c *TCPClient) SendControl(control *VehicleControl) error {
	if err := c.write(msgControl, control); err != nil {
		return fmt.Errorf("failed to send control: %w", err)
	}
	return nil
}

// Close tears down the connection. Safe to call more than once.
func (c *TCPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *TCPClient) write(msgType string, payload interface{}) error {
	if c.conn == nil {
		return fmt.Errorf("client not connected")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}
	data, err := json.Marshal(envelope{Type: msgType, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.rtTimeout)); err != nil {
		return err
	}
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := c.conn.Write(length[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *TCPClient) read() (*envelope, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("client not connected")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.rtTimeout)); err != nil {
		return nil, err
	}
	var length [4]byte
	if _, err := io.ReadFull(c.conn, length[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(length[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length %d", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}
