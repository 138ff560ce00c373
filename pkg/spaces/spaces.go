// Package spaces describes the observation and action spaces exposed by an
// environment: bounded tensors, discrete enumerations, and tuples of both.
package spaces

import (
	"fmt"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Space describes a space of actions or observations and can report whether
// a value lies within its bounds.
type Space interface {
	// Contains returns whether x is in the space
	Contains(x interface{}) bool

	// Sample draws a uniform random element of the space
	Sample(rng *rand.Rand) interface{}

	fmt.Stringer
}

// Box is a bounded tensor space with uniform scalar bounds over a fixed
// shape. Image observations use shape (height, width, channels); feature
// vectors use shape (n).
type Box struct {
	Low   float64
	High  float64
	Shape []int
}

// NewBox creates a Box space
func NewBox(low, high float64, shape ...int) *Box {
	return &Box{Low: low, High: high, Shape: shape}
}

// Size returns the total number of scalar elements in the space
func (b *Box) Size() int {
	n := 1
	for _, d := range b.Shape {
		n *= d
	}
	return n
}

// Contains reports whether x is a []float64 (or *mat.VecDense for
// one-dimensional boxes) of the right size with every element in bounds.
func (b *Box) Contains(x interface{}) bool {
	var vals []float64
	switch v := x.(type) {
	case []float64:
		vals = v
	case *mat.VecDense:
		vals = v.RawVector().Data
	case []float32:
		vals = make([]float64, len(v))
		for i, f := range v {
			vals[i] = float64(f)
		}
	default:
		return false
	}

	if len(vals) != b.Size() {
		return false
	}
	for _, v := range vals {
		if v < b.Low || v > b.High {
			return false
		}
	}
	return true
}

// Sample draws a uniform sample as a []float64 of Size() elements
func (b *Box) Sample(rng *rand.Rand) interface{} {
	out := make([]float64, b.Size())
	for i := range out {
		out[i] = b.Low + rng.Float64()*(b.High-b.Low)
	}
	return out
}

// LowVec returns the elementwise lower bound as a vector. Only meaningful
// for one-dimensional boxes, which is how action and feature spaces use it.
func (b *Box) LowVec() *mat.VecDense {
	out := make([]float64, b.Size())
	for i := range out {
		out[i] = b.Low
	}
	return mat.NewVecDense(len(out), out)
}

// HighVec returns the elementwise upper bound as a vector
func (b *Box) HighVec() *mat.VecDense {
	out := make([]float64, b.Size())
	for i := range out {
		out[i] = b.High
	}
	return mat.NewVecDense(len(out), out)
}

func (b *Box) String() string {
	return fmt.Sprintf("Box(%g, %g, %v)", b.Low, b.High, b.Shape)
}

// Discrete is a space of n integer values {0, ..., n-1}
type Discrete struct {
	N int
}

// NewDiscrete creates a Discrete space
func NewDiscrete(n int) *Discrete {
	return &Discrete{N: n}
}

// Contains reports whether x is an int in [0, N)
func (d *Discrete) Contains(x interface{}) bool {
	i, ok := x.(int)
	return ok && i >= 0 && i < d.N
}

// Sample draws a uniform int in [0, N)
func (d *Discrete) Sample(rng *rand.Rand) interface{} {
	return rng.Intn(d.N)
}

func (d *Discrete) String() string {
	return fmt.Sprintf("Discrete(%d)", d.N)
}

// Tuple is a fixed-length product of sub-spaces
type Tuple struct {
	Spaces []Space
}

// NewTuple creates a Tuple space
func NewTuple(spaces ...Space) *Tuple {
	return &Tuple{Spaces: spaces}
}

// Contains reports whether x is a []interface{} with each element contained
// in the corresponding sub-space.
func (t *Tuple) Contains(x interface{}) bool {
	elems, ok := x.([]interface{})
	if !ok || len(elems) != len(t.Spaces) {
		return false
	}
	for i, s := range t.Spaces {
		if !s.Contains(elems[i]) {
			return false
		}
	}
	return true
}

// Sample draws one sample per sub-space
func (t *Tuple) Sample(rng *rand.Rand) interface{} {
	out := make([]interface{}, len(t.Spaces))
	for i, s := range t.Spaces {
		out[i] = s.Sample(rng)
	}
	return out
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.Spaces))
	for i, s := range t.Spaces {
		parts[i] = s.String()
	}
	return fmt.Sprintf("Tuple(%s)", strings.Join(parts, ", "))
}
