package stub

// CounterVec is a counter with labels, e.g. a prometheus CounterVec.
type CounterVec interface {
	IncLabels(labels ...string)
}

type CounterVecIgnore struct{}

func (CounterVecIgnore) IncLabels(labels ...string) {}

// Gauge tracks a value that goes up and down, e.g. the number of running
// contexts.
type Gauge interface {
	Inc()
	Dec()
}

type GaugeIgnore struct{}

func (GaugeIgnore) Inc() {}
func (GaugeIgnore) Dec() {}

// HistogramVec observes values, typically durations in seconds, with labels.
type HistogramVec interface {
	ObserveLabels(v float64, labels ...string)
}

type HistogramVecIgnore struct{}

func (HistogramVecIgnore) ObserveLabels(v float64, labels ...string) {}
