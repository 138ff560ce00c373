package env

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/carla"
)

// Image is a dense float image in (height, width, channels) layout
type Image struct {
	Height   int
	Width    int
	Channels int
	Pix      []float64
}

// At returns the pixel value at (y, x, c)
func (im *Image) At(y, x, c int) float64 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Observation is the tuple handed to the agent each step: the stacked
// camera image, the planner's next command as a one-hot index, and the
// [forward_speed, distance_to_goal] feature vector.
type Observation struct {
	Image   *Image
	Command int
	Metrics *mat.VecDense // 2-vector: forward speed, distance to goal
}

// Info carries per-step diagnostics alongside the observation
type Info map[string]interface{}

const (
	cameraRGB   = "CameraRGB"
	cameraDepth = "CameraDepth"
)

// cameraName returns the sensor the environment reads frames from
func (e *CarlaEnv) cameraName() string {
	if e.config.UseDepthCamera {
		return cameraDepth
	}
	return cameraRGB
}

// preprocessFrame converts a raw camera frame into the observation image:
// center-crop to twice the observation resolution, then 2x downsample.
// Depth frames are normalized to [-1, 1]; RGB stays in [0, 255].
func (e *CarlaEnv) preprocessFrame(f *carla.Frame) (*Image, error) {
	wantChannels := 3
	if e.config.UseDepthCamera {
		wantChannels = 1
	}
	if f.Channels != wantChannels {
		return nil, fmt.Errorf("camera %s delivered %d channels, want %d", f.Name, f.Channels, wantChannels)
	}
	if len(f.Data) != f.Width*f.Height*f.Channels {
		return nil, fmt.Errorf("camera frame size %d does not match %dx%dx%d", len(f.Data), f.Width, f.Height, f.Channels)
	}

	cropW, cropH := 2*e.config.XRes, 2*e.config.YRes
	if f.Width < cropW || f.Height < cropH {
		return nil, fmt.Errorf("camera frame %dx%d smaller than crop %dx%d", f.Width, f.Height, cropW, cropH)
	}
	offX := (f.Width - cropW) / 2
	offY := (f.Height - cropH) / 2

	out := &Image{
		Height:   e.config.YRes,
		Width:    e.config.XRes,
		Channels: f.Channels,
		Pix:      make([]float64, e.config.YRes*e.config.XRes*f.Channels),
	}

	i := 0
	for y := 0; y < cropH; y += 2 {
		srcY := offY + y
		for x := 0; x < cropW; x += 2 {
			srcX := offX + x
			base := (srcY*f.Width + srcX) * f.Channels
			for c := 0; c < f.Channels; c++ {
				v := float64(f.Data[base+c])
				if e.config.UseDepthCamera {
					v = v/127.5 - 1.0
				}
				out.Pix[i] = v
				i++
			}
		}
	}
	return out, nil
}

// stackFrames concatenates prev and cur along the channel axis. With
// framestack 1 it returns cur unchanged; with framestack 2 and no previous
// frame yet (first observation of an episode) the current frame is
// duplicated.
func stackFrames(prev, cur *Image, framestack int) *Image {
	if framestack == 1 {
		return cur
	}
	if prev == nil {
		prev = cur
	}
	out := &Image{
		Height:   cur.Height,
		Width:    cur.Width,
		Channels: prev.Channels + cur.Channels,
		Pix:      make([]float64, 0, len(prev.Pix)+len(cur.Pix)),
	}
	for y := 0; y < cur.Height; y++ {
		for x := 0; x < cur.Width; x++ {
			base := (y*cur.Width + x) * prev.Channels
			out.Pix = append(out.Pix, prev.Pix[base:base+prev.Channels]...)
			base = (y*cur.Width + x) * cur.Channels
			out.Pix = append(out.Pix, cur.Pix[base:base+cur.Channels]...)
		}
	}
	return out
}

// buildObservation assembles the observation tuple from telemetry
func (e *CarlaEnv) buildObservation(m *carla.Measurements) (Observation, *Image, error) {
	frame := m.FrameByName(e.cameraName())
	if frame == nil {
		return Observation{}, nil, fmt.Errorf("telemetry is missing camera %s", e.cameraName())
	}
	img, err := e.preprocessFrame(frame)
	if err != nil {
		return Observation{}, nil, err
	}

	obs := Observation{
		Image:   stackFrames(e.prevImage, img, e.config.Framestack),
		Command: CommandOrdinal(e.nextCommand(m)),
		Metrics: mat.NewVecDense(2, []float64{m.ForwardSpeed, e.distanceToGoal(m)}),
	}
	return obs, img, nil
}

// nextCommand returns the planner command for the current step. With the
// planner disabled every step reads as lane following until the goal.
func (e *CarlaEnv) nextCommand(m *carla.Measurements) carla.Command {
	if !e.config.EnablePlanner {
		return carla.CommandLaneFollow
	}
	if m.NextCommand == "" {
		return carla.CommandLaneFollow
	}
	return m.NextCommand
}

// distanceToGoal prefers the planner's road distance and falls back to the
// euclidean distance from the player to the goal spot.
func (e *CarlaEnv) distanceToGoal(m *carla.Measurements) float64 {
	if e.config.EnablePlanner && m.DistanceToGoal > 0 {
		return m.DistanceToGoal
	}
	return euclidean(m.Player.X, m.Player.Y, e.endPos.X, e.endPos.Y)
}
