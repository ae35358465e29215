package evaluate

import (
	"fmt"
	"sort"
	"strings"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/pkg/types"
)

// Metric names a group of benchmark measurements.
type Metric string

const (
	MetricDBSize Metric = "dbsize"
	MetricQphH   Metric = "qphh"
	MetricTime   Metric = "time"
)

// collectionOrder is the order metrics are measured in. Storage is measured
// first, before the refresh streams of the qphh run change the data.
var collectionOrder = []Metric{MetricDBSize, MetricQphH, MetricTime}

// FitnessFunc scores current metrics, optionally relative to the baseline.
type FitnessFunc func(current, baseline types.Metrics) (float64, error)

// Fitness is a named scoring function and the metrics it reads.
type Fitness struct {
	Name          string
	Needs         []Metric
	NeedsBaseline bool
	Score         FitnessFunc
}

var fitnesses = map[string]Fitness{
	"qphh": {
		Name:  "qphh",
		Needs: []Metric{MetricQphH, MetricDBSize, MetricTime},
		Score: func(cur, _ types.Metrics) (float64, error) {
			return cur.QphH, nil
		},
	},
	"qphh_prop": {
		Name:          "qphh_prop",
		Needs:         []Metric{MetricQphH, MetricDBSize},
		NeedsBaseline: true,
		Score: func(cur, base types.Metrics) (float64, error) {
			return ratio("qphh", base.QphH, cur.QphH)
		},
	},
	"time": {
		Name:          "time",
		Needs:         []Metric{MetricTime, MetricDBSize},
		NeedsBaseline: true,
		Score: func(cur, base types.Metrics) (float64, error) {
			return ratio("time", base.Time, cur.Time)
		},
	},
	"time_squared": {
		Name:          "time_squared",
		Needs:         []Metric{MetricTime, MetricDBSize},
		NeedsBaseline: true,
		Score: func(cur, base types.Metrics) (float64, error) {
			r, err := ratio("time", base.Time, cur.Time)
			return r * r, err
		},
	},
	// dbsize only exercises the storage probe; it is not a useful objective.
	"dbsize": {
		Name:  "dbsize",
		Needs: []Metric{MetricTime, MetricDBSize},
		Score: func(cur, _ types.Metrics) (float64, error) {
			return cur.IndexSize, nil
		},
	},
}

func ratio(metric string, baseline, current float64) (float64, error) {
	if current == 0 {
		return 0, ierrors.NewInternalError(fmt.Sprintf("fitness: current %s is zero", metric), nil)
	}
	return baseline / current, nil
}

// LookupFitness returns the registered fitness name.
func LookupFitness(name string) (Fitness, error) {
	f, ok := fitnesses[name]
	if !ok {
		return Fitness{}, ierrors.NewConfigError(ierrors.CodeUnknownFitness,
			fmt.Sprintf("unknown fitness %q (available: %s)", name, strings.Join(FitnessNames(), ", ")))
	}
	return f, nil
}

// FitnessNames lists the registered fitness names, sorted.
func FitnessNames() []string {
	names := make([]string, 0, len(fitnesses))
	for name := range fitnesses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// needs reports whether f reads metric m.
func (f Fitness) needs(m Metric) bool {
	for _, n := range f.Needs {
		if n == m {
			return true
		}
	}
	return false
}
