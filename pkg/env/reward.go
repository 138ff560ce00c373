package env

import (
	"math"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/carla"
)

// goalDistance is how close (meters) the player must be to count as arrived
const goalDistance = 0.5

// computeReward scores one step from measurement deltas: progress toward
// the goal, speed gain, new collision damage, and lane/road departures.
func (e *CarlaEnv) computeReward(prev, cur *carla.Measurements) float64 {
	reward := 0.0

	prevDist := e.distanceToGoal(prev)
	curDist := e.distanceToGoal(cur)
	reward += clamp(prevDist-curDist, -10.0, 10.0)

	reward += 0.05 * (cur.ForwardSpeed - prev.ForwardSpeed)

	if damage := newDamage(prev, cur); damage > 0 {
		reward -= 0.00002 * damage
	}

	reward -= 2.0 * (cur.IntersectionOffroad - prev.IntersectionOffroad)
	reward -= 2.0 * (cur.IntersectionOtherLane - prev.IntersectionOtherLane)

	return reward
}

// newDamage is the collision intensity accumulated since the previous step
func newDamage(prev, cur *carla.Measurements) float64 {
	delta := (cur.CollisionVehicles + cur.CollisionPedestrians + cur.CollisionOther) -
		(prev.CollisionVehicles + prev.CollisionPedestrians + prev.CollisionOther)
	if delta < 0 {
		return 0
	}
	return delta
}

// episodeOutcome labels why an episode ended; empty while it is running
type episodeOutcome string

const (
	outcomeRunning   episodeOutcome = ""
	outcomeGoal      episodeOutcome = "goal"
	outcomeCollision episodeOutcome = "collision"
	outcomeTimeout   episodeOutcome = "timeout"
)

// checkDone decides whether the episode ended with this step's telemetry
func (e *CarlaEnv) checkDone(prev, cur *carla.Measurements) episodeOutcome {
	if e.nextCommand(cur) == carla.CommandReachGoal || e.distanceToGoal(cur) < goalDistance {
		return outcomeGoal
	}
	if e.config.EarlyTerminateOnCollision && newDamage(prev, cur) > 0 {
		return outcomeCollision
	}
	if e.numSteps >= e.scenario.MaxSteps {
		return outcomeTimeout
	}
	return outcomeRunning
}

func euclidean(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}
