package types

// ProfileSample is the timing of one executed statement or procedure call.
type ProfileSample struct {
	// Label identifies the statement, e.g. the profiling query id
	Label string `json:"label"`

	// Duration is the measured execution time in seconds
	Duration float64 `json:"duration"`
}

// Profile is an ordered collection of samples from one benchmark stage.
type Profile []ProfileSample

// Durations returns the sample durations in order.
func (p Profile) Durations() []float64 {
	out := make([]float64, len(p))
	for i, s := range p {
		out[i] = s.Duration
	}
	return out
}

// Total returns the sum of all durations in seconds.
func (p Profile) Total() float64 {
	var sum float64
	for _, s := range p {
		sum += s.Duration
	}
	return sum
}
