package types

// Metrics is the flat record produced by one evaluation. Fields a stage did
// not compute stay zero.
type Metrics struct {
	Power          float64 `json:"power"`
	Throughput     float64 `json:"throughput"`
	QphH           float64 `json:"qphh"`
	DataSize       float64 `json:"data_size"`
	IndexSize      float64 `json:"index_size"`
	Time           float64 `json:"time"`
	Cost           float64 `json:"cost"`
	BenchmarkTime  float64 `json:"benchmark_time"`
	EvaluationTime float64 `json:"evaluation_time"`
}

// DBSize returns data plus index size in megabytes.
func (m Metrics) DBSize() float64 {
	return m.DataSize + m.IndexSize
}

// Merge copies every non-zero field of other into m.
func (m *Metrics) Merge(other Metrics) {
	if other.Power != 0 {
		m.Power = other.Power
	}
	if other.Throughput != 0 {
		m.Throughput = other.Throughput
	}
	if other.QphH != 0 {
		m.QphH = other.QphH
	}
	if other.DataSize != 0 {
		m.DataSize = other.DataSize
	}
	if other.IndexSize != 0 {
		m.IndexSize = other.IndexSize
	}
	if other.Time != 0 {
		m.Time = other.Time
	}
	if other.Cost != 0 {
		m.Cost = other.Cost
	}
	if other.BenchmarkTime != 0 {
		m.BenchmarkTime = other.BenchmarkTime
	}
	if other.EvaluationTime != 0 {
		m.EvaluationTime = other.EvaluationTime
	}
}

// AsMap returns the metrics keyed by their JSON names.
func (m Metrics) AsMap() map[string]float64 {
	return map[string]float64{
		"power":           m.Power,
		"throughput":      m.Throughput,
		"qphh":            m.QphH,
		"data_size":       m.DataSize,
		"index_size":      m.IndexSize,
		"time":            m.Time,
		"cost":            m.Cost,
		"benchmark_time":  m.BenchmarkTime,
		"evaluation_time": m.EvaluationTime,
	}
}
