package domain

// Measurement is one scalar reading produced by the analysis job, e.g. a
// tremor frequency or a range-of-motion angle. Readings are stored on the
// session as a JSON array.
type Measurement struct {
	// Kind names the sub-analysis that produced the value ("tremor", "rom",
	// "coordination", "smoothness").
	Kind string `json:"kind"`
	// Metric names the specific quantity within the kind.
	Metric string `json:"metric"`
	// Value is the measured scalar.
	Value float64 `json:"value"`
	// Unit is the value's unit of measure ("hz", "deg", "score").
	Unit string `json:"unit,omitempty"`
	// Hand identifies which hand the reading belongs to ("left", "right"),
	// empty when the metric is bilateral.
	Hand string `json:"hand,omitempty"`
}
