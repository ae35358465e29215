package benchmark

import (
	"math"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
)

// MinDuration is the floor applied to a timing before it enters the geometric
// mean. Profilers report statements faster than their resolution as zero.
const MinDuration = 1e-6

// GeometricMean returns the geometric mean of durations, computed in log
// space. An empty input fails with EmptyProfileSet.
func GeometricMean(durations []float64) (float64, error) {
	if len(durations) == 0 {
		return 0, ierrors.NewBenchmarkError(ierrors.CodeEmptyProfileSet,
			"geometric mean of an empty profile set", nil)
	}
	var sum float64
	for _, d := range durations {
		sum += math.Log(math.Max(d, MinDuration))
	}
	return math.Exp(sum / float64(len(durations))), nil
}

// Power computes power@size: 3600 over the geometric mean of the power test
// timings, times the scale factor.
func Power(durations []float64, scaleFactor float64) (float64, error) {
	gm, err := GeometricMean(durations)
	if err != nil {
		return 0, err
	}
	return 3600 / gm * scaleFactor, nil
}

// Throughput computes throughput@size from the wall-clock seconds the
// throughput test took.
func Throughput(queryCount int, elapsedSeconds, scaleFactor float64) float64 {
	return 2 * float64(queryCount) / elapsedSeconds * 3600 * scaleFactor
}

// Composite returns QphH@size, the geometric mean of power and throughput.
func Composite(power, throughput float64) float64 {
	return math.Sqrt(power * throughput)
}
