// Package carla defines the boundary to the external CARLA driving
// simulator: the telemetry and control message types exchanged each tick,
// the capability interface a simulator client must provide, and a TCP
// implementation of that interface.
package carla

// Command is the navigation instruction the simulator's planner emits for
// the current road segment.
type Command string

const (
	CommandReachGoal  Command = "REACH_GOAL"
	CommandGoStraight Command = "GO_STRAIGHT"
	CommandTurnRight  Command = "TURN_RIGHT"
	CommandTurnLeft   Command = "TURN_LEFT"
	CommandLaneFollow Command = "LANE_FOLLOW"
)

// Transform is a position and heading in world coordinates
type Transform struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	OrientX float64 `json:"orient_x"`
	OrientY float64 `json:"orient_y"`
}

// Frame is one camera image. Data is row-major, Channels bytes per pixel
// (3 for RGB, 1 for depth where each byte is normalized depth).
type Frame struct {
	Name     string `json:"name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Data     []byte `json:"data"`
}

// Measurements is the per-tick telemetry read back from the simulator
type Measurements struct {
	GameTimestamp        int64     `json:"game_timestamp"`
	PlatformTimestamp    int64     `json:"platform_timestamp"`
	Player               Transform `json:"player"`
	ForwardSpeed         float64   `json:"forward_speed"`
	DistanceToGoal       float64   `json:"distance_to_goal"`
	CollisionVehicles    float64   `json:"collision_vehicles"`
	CollisionPedestrians float64   `json:"collision_pedestrians"`
	CollisionOther       float64   `json:"collision_other"`
	IntersectionOtherLane float64  `json:"intersection_otherlane"`
	IntersectionOffroad  float64   `json:"intersection_offroad"`
	NextCommand          Command   `json:"next_command"`
	Frames               []Frame   `json:"frames"`
}

// FrameByName returns the named camera frame, or nil
func (m *Measurements) FrameByName(name string) *Frame {
	for i := range m.Frames {
		if m.Frames[i].Name == name {
			return &m.Frames[i]
		}
	}
	return nil
}

// VehicleControl is the control command sent to the simulator each step
type VehicleControl struct {
	Throttle  float64 `json:"throttle"` // [0, 1]
	Steer     float64 `json:"steer"`    // [-1, 1]
	Brake     float64 `json:"brake"`    // [0, 1]
	HandBrake bool    `json:"hand_brake"`
	Reverse   bool    `json:"reverse"`
}

// CameraSpec describes one camera sensor attached to the player vehicle
type CameraSpec struct {
	Name           string  `json:"name"`
	PostProcessing string  `json:"post_processing"` // "SceneFinal" or "Depth"
	ImageSizeX     int     `json:"image_size_x"`
	ImageSizeY     int     `json:"image_size_y"`
	FOV            float64 `json:"fov"`
	PositionX      float64 `json:"position_x"`
	PositionY      float64 `json:"position_y"`
	PositionZ      float64 `json:"position_z"`
}

// EpisodeSettings configures one simulator episode
type EpisodeSettings struct {
	SynchronousMode     bool         `json:"synchronous_mode"`
	SendNonPlayerInfo   bool         `json:"send_non_player_agents_info"`
	NumberOfVehicles    int          `json:"number_of_vehicles"`
	NumberOfPedestrians int          `json:"number_of_pedestrians"`
	WeatherID           int          `json:"weather_id"`
	QualityLevel        string       `json:"quality_level"`
	Seed                int64        `json:"seed"`
	PlayerStartSpot     int          `json:"player_start_spot"`
	GoalSpot            int          `json:"goal_spot"`
	Cameras             []CameraSpec `json:"cameras"`
}

// SceneDescription is the simulator's reply to an episode start request
type SceneDescription struct {
	MapName          string      `json:"map_name"`
	PlayerStartSpots []Transform `json:"player_start_spots"`
}
