// Analysis configuration carried by a session's ingest request and passed to
// the analysis job. Defaults mirror the capture pipeline's processing
// service; unknown values are rejected at ingest, not at job time.
package domain

// Known analysis kinds and output formats. Kept as plain strings because the
// set is configuration data, not behavior.
var (
	DefaultFilters       = []string{"butterworth", "kalman", "savitzky_golay"}
	DefaultAnalysisKinds = []string{"tremor", "rom", "coordination", "smoothness"}
	DefaultOutputFormats = []string{"video", "excel", "dashboards"}
)

// AnalysisConfig names which sub-analyses a job should run and which output
// artifacts it should produce.
type AnalysisConfig struct {
	// Confidence is the minimum detection confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// MaxHands bounds how many hands the detector tracks per frame.
	MaxHands int `json:"max_hands"`
	// Filters lists the smoothing filters applied to the raw series.
	Filters []string `json:"filters"`
	// AnalysisKinds selects the sub-analyses to run.
	AnalysisKinds []string `json:"analysis_kinds"`
	// OutputFormats selects which artifacts the job renders.
	OutputFormats []string `json:"output_formats"`
}

// DefaultAnalysisConfig returns the configuration used when the ingest
// request carries none.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Confidence:    0.5,
		MaxHands:      2,
		Filters:       append([]string(nil), DefaultFilters...),
		AnalysisKinds: append([]string(nil), DefaultAnalysisKinds...),
		OutputFormats: append([]string(nil), DefaultOutputFormats...),
	}
}

// Normalize fills zero values with defaults so a partially specified config
// from a client is usable as-is.
func (c AnalysisConfig) Normalize() AnalysisConfig {
	def := DefaultAnalysisConfig()
	if c.Confidence <= 0 || c.Confidence > 1 {
		c.Confidence = def.Confidence
	}
	if c.MaxHands <= 0 {
		c.MaxHands = def.MaxHands
	}
	if len(c.Filters) == 0 {
		c.Filters = def.Filters
	}
	if len(c.AnalysisKinds) == 0 {
		c.AnalysisKinds = def.AnalysisKinds
	}
	if len(c.OutputFormats) == 0 {
		c.OutputFormats = def.OutputFormats
	}
	return c
}
