package env

import (
	"fmt"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/carla"
)

// NumCommands is the size of the planner command enumeration
const NumCommands = 5

// commandOrdinal maps planner commands to the one-hot index fed to models
var commandOrdinal = map[carla.Command]int{
	carla.CommandReachGoal:  0,
	carla.CommandGoStraight: 1,
	carla.CommandTurnRight:  2,
	carla.CommandTurnLeft:   3,
	carla.CommandLaneFollow: 4,
}

// CommandOrdinal returns the discrete index for a planner command.
// Unknown commands fall back to LANE_FOLLOW.
func CommandOrdinal(cmd carla.Command) int {
	if ord, ok := commandOrdinal[cmd]; ok {
		return ord
	}
	return commandOrdinal[carla.CommandLaneFollow]
}

// discreteActions maps each discrete action index to a (throttle, steer)
// pair; negative throttle encodes braking.
var discreteActions = [9][2]float64{
	{0.0, 0.0},   // coast
	{0.0, -0.5},  // turn left
	{0.0, 0.5},   // turn right
	{1.0, 0.0},   // forward
	{-0.5, 0.0},  // brake
	{1.0, -0.5},  // bear left and accelerate
	{1.0, 0.5},   // bear right and accelerate
	{-0.5, -0.5}, // brake and turn left
	{-0.5, 0.5},  // brake and turn right
}

// NumDiscreteActions is the size of the discrete action space
const NumDiscreteActions = len(discreteActions)

// controlForPair clips a (throttle, steer) pair into a vehicle control
// command: throttle in [0,1], steer in [-1,1], negative throttle as brake.
func controlForPair(throttle, steer float64) *carla.VehicleControl {
	control := &carla.VehicleControl{
		Steer: clamp(steer, -1, 1),
	}
	if throttle >= 0 {
		control.Throttle = clamp(throttle, 0, 1)
	} else {
		control.Brake = clamp(-throttle, 0, 1)
	}
	return control
}

// translateAction converts an agent action into a vehicle control command.
// Discrete environments accept an int index; continuous environments a
// 2-element [throttle, steer] vector.
func (e *CarlaEnv) translateAction(action interface{}) (*carla.VehicleControl, error) {
	if e.config.DiscreteActions {
		idx, ok := action.(int)
		if !ok {
			return nil, fmt.Errorf("discrete environment expects an int action, got %T", action)
		}
		if idx < 0 || idx >= NumDiscreteActions {
			return nil, fmt.Errorf("action %d outside Discrete(%d)", idx, NumDiscreteActions)
		}
		pair := discreteActions[idx]
		return controlForPair(pair[0], pair[1]), nil
	}

	vec, ok := action.([]float64)
	if !ok || len(vec) != 2 {
		return nil, fmt.Errorf("continuous environment expects a [throttle, steer] pair, got %T", action)
	}
	return controlForPair(vec[0], vec[1]), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
