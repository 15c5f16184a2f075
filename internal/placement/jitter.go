package placement

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/stat"
)

// DefaultJitterWindow is the number of recent candidate positions kept.
const DefaultJitterWindow = 30

// JitterMeter measures how much the candidate pose wanders between frames.
// It is not safe for concurrent use.
type JitterMeter struct {
	window  int
	xs, ys  []float64
	zs      []float64
	samples int
}

// NewJitterMeter returns a meter over the last window positions.
func NewJitterMeter(window int) *JitterMeter {
	if window < 2 {
		window = DefaultJitterWindow
	}
	return &JitterMeter{window: window}
}

// Add records a candidate position.
func (j *JitterMeter) Add(p mgl64.Vec3) {
	j.xs = appendWindow(j.xs, p.X(), j.window)
	j.ys = appendWindow(j.ys, p.Y(), j.window)
	j.zs = appendWindow(j.zs, p.Z(), j.window)
	j.samples++
}

func appendWindow(s []float64, v float64, n int) []float64 {
	s = append(s, v)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// Reset forgets all samples.
func (j *JitterMeter) Reset() {
	j.xs, j.ys, j.zs = j.xs[:0], j.ys[:0], j.zs[:0]
	j.samples = 0
}

// Len is the number of positions currently in the window.
func (j *JitterMeter) Len() int { return len(j.xs) }

// Samples is the total number of positions recorded since the last reset.
func (j *JitterMeter) Samples() int { return j.samples }

// RMS is the root of the summed per-axis variances in the window, in
// metres. It is 0 until two samples are present.
func (j *JitterMeter) RMS() float64 {
	if len(j.xs) < 2 {
		return 0
	}
	return math.Sqrt(stat.Variance(j.xs, nil) + stat.Variance(j.ys, nil) + stat.Variance(j.zs, nil))
}

// HorizontalStdDev is the spread of the window in the XZ plane.
func (j *JitterMeter) HorizontalStdDev() float64 {
	if len(j.xs) < 2 {
		return 0
	}
	return math.Hypot(stat.StdDev(j.xs, nil), stat.StdDev(j.zs, nil))
}
