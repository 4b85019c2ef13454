// Signal-processing helpers for the analysis job. The keypoint series is
// reduced to a per-frame centroid displacement signal; filters and
// sub-analyses operate on that one-dimensional series. The math is
// deliberately simple (moving-average smoothing, zero-crossing frequency
// estimation) — the readings feed clinician-facing trend views, not
// diagnoses.
package services

import (
	"math"
	"sort"

	"github.com/handmotion/capture-backend/internal/domain"
)

// centroid reduces one frame's landmarks to a single (x, y) point.
func centroid(landmarks [][]float64) (x, y float64) {
	if len(landmarks) == 0 {
		return 0, 0
	}
	for _, lm := range landmarks {
		if len(lm) >= 2 {
			x += lm[0]
			y += lm[1]
		}
	}
	n := float64(len(landmarks))
	return x / n, y / n
}

// displacementSignal converts the frame series into per-frame centroid
// displacement magnitudes. The first frame contributes zero.
func displacementSignal(series *keypointSeries) []float64 {
	out := make([]float64, len(series.Frames))
	var px, py float64
	for i, f := range series.Frames {
		cx, cy := centroid(f.Landmarks)
		if i > 0 {
			out[i] = math.Hypot(cx-px, cy-py)
		}
		px, py = cx, cy
	}
	return out
}

// applyFilters smooths the series in place per the configured filter chain.
// Every configured filter maps onto a moving average whose window reflects
// the filter's aggressiveness; unknown names are skipped.
func applyFilters(series *keypointSeries, filters []string) *keypointSeries {
	window := 1
	for _, f := range filters {
		switch f {
		case "butterworth":
			window = maxInt(window, 5)
		case "kalman":
			window = maxInt(window, 3)
		case "savitzky_golay":
			window = maxInt(window, 7)
		}
	}
	if window <= 1 || len(series.Frames) < window {
		return series
	}

	smoothed := make([]keypointFrame, len(series.Frames))
	copy(smoothed, series.Frames)
	for i := range series.Frames {
		lo := maxInt(0, i-window/2)
		hi := minInt(len(series.Frames)-1, i+window/2)
		smoothed[i].Landmarks = averageLandmarks(series.Frames[lo : hi+1])
	}
	return &keypointSeries{FPS: series.FPS, Frames: smoothed}
}

// averageLandmarks averages aligned landmark coordinates across frames.
// Frames with mismatched landmark counts fall back to the center frame.
func averageLandmarks(frames []keypointFrame) [][]float64 {
	if len(frames) == 0 {
		return nil
	}
	ref := frames[len(frames)/2].Landmarks
	out := make([][]float64, len(ref))
	for j := range ref {
		sumX, sumY, n := 0.0, 0.0, 0.0
		for _, f := range frames {
			if j < len(f.Landmarks) && len(f.Landmarks[j]) >= 2 {
				sumX += f.Landmarks[j][0]
				sumY += f.Landmarks[j][1]
				n++
			}
		}
		if n == 0 {
			out[j] = append([]float64(nil), ref[j]...)
			continue
		}
		out[j] = []float64{sumX / n, sumY / n}
	}
	return out
}

// runAnalyses computes the configured sub-analyses over the filtered series.
func runAnalyses(series *keypointSeries, kinds []string) []domain.Measurement {
	signal := displacementSignal(series)
	fps := series.FPS
	if fps <= 0 {
		fps = 30
	}

	var out []domain.Measurement
	for _, kind := range kinds {
		switch kind {
		case "tremor":
			out = append(out,
				domain.Measurement{Kind: "tremor", Metric: "frequency", Value: round2(dominantFrequency(signal, fps)), Unit: "hz"},
				domain.Measurement{Kind: "tremor", Metric: "amplitude", Value: round2(meanAbs(signal)), Unit: "px"},
			)
		case "rom":
			out = append(out,
				domain.Measurement{Kind: "rom", Metric: "extent", Value: round2(rangeOf(signal)), Unit: "px"},
			)
		case "coordination":
			out = append(out,
				domain.Measurement{Kind: "coordination", Metric: "variability", Value: round2(stddev(signal)), Unit: "px"},
			)
		case "smoothness":
			out = append(out,
				domain.Measurement{Kind: "smoothness", Metric: "jerk_index", Value: round2(jerkIndex(signal, fps)), Unit: "score"},
			)
		}
	}
	return out
}

// dominantFrequency estimates oscillation frequency by counting mean
// crossings of the displacement signal.
func dominantFrequency(signal []float64, fps float64) float64 {
	if len(signal) < 3 {
		return 0
	}
	mean := meanOf(signal)
	crossings := 0
	for i := 1; i < len(signal); i++ {
		if (signal[i-1] < mean) != (signal[i] < mean) {
			crossings++
		}
	}
	duration := float64(len(signal)) / fps
	if duration <= 0 {
		return 0
	}
	// Two crossings per full cycle.
	return float64(crossings) / 2 / duration
}

// jerkIndex scores movement smoothness by the normalized second derivative;
// lower is smoother. Mapped into [0,100] where 100 is perfectly smooth.
func jerkIndex(signal []float64, fps float64) float64 {
	if len(signal) < 3 {
		return 100
	}
	var total float64
	for i := 2; i < len(signal); i++ {
		accel := (signal[i] - 2*signal[i-1] + signal[i-2]) * fps * fps
		total += math.Abs(accel)
	}
	mean := total / float64(len(signal)-2)
	return 100 / (1 + mean/100)
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func meanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += math.Abs(x)
	}
	return s / float64(len(v))
}

func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := meanOf(v)
	var s float64
	for _, x := range v {
		d := x - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(v)-1))
}

// rangeOf returns the spread between the 5th and 95th percentile, which is
// robust against single-frame detection glitches.
func rangeOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	lo := sorted[len(sorted)*5/100]
	hi := sorted[minInt(len(sorted)-1, len(sorted)*95/100)]
	return hi - lo
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
