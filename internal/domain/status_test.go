package domain

import "testing"

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{
		StatusKeypointsUploaded, StatusAnalyzing, StatusVideoUploaded,
		StatusCompleted, StatusFailed, StatusCancelled,
	} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("bogus").Valid() {
		t.Error("bogus should not be valid")
	}
	if Status("").Valid() {
		t.Error("empty should not be valid")
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusKeypointsUploaded: false,
		StatusAnalyzing:         false,
		StatusVideoUploaded:     false,
		StatusCompleted:         true,
		StatusFailed:            true,
		StatusCancelled:         true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestNextOnVideo(t *testing.T) {
	cases := []struct {
		name     string
		current  Status
		progress int
		want     Status
	}{
		// Video lands while analysis is pending or running.
		{"keypoints then video", StatusKeypointsUploaded, 0, StatusVideoUploaded},
		{"analyzing then video", StatusAnalyzing, 40, StatusVideoUploaded},

		// Analysis already finished before the video arrived: the upload is
		// the missing piece and completes the session.
		{"analysis done, video last", StatusAnalyzing, 100, StatusCompleted},
		{"keypoints done, video last", StatusKeypointsUploaded, 100, StatusCompleted},

		// Re-delivery after completion is a no-op.
		{"already completed", StatusCompleted, 100, StatusCompleted},

		// Video for a cancelled or failed session never resurrects it.
		{"cancelled stays cancelled", StatusCancelled, 100, StatusCancelled},
		{"failed stays failed", StatusFailed, 100, StatusFailed},
		{"cancelled mid progress", StatusCancelled, 50, StatusCancelled},

		// Both payloads already present, analysis mid-flight.
		{"video re-upload mid analysis", StatusVideoUploaded, 70, StatusVideoUploaded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextOnVideo(tc.current, tc.progress); got != tc.want {
				t.Fatalf("NextOnVideo(%s, %d) = %s, want %s", tc.current, tc.progress, got, tc.want)
			}
		})
	}
}

func TestNextOnProgress(t *testing.T) {
	cases := []struct {
		name         string
		current      Status
		progress     int
		videoPresent bool
		want         Status
	}{
		// Progress alone never completes a session.
		{"100 without video", StatusAnalyzing, 100, false, StatusAnalyzing},
		{"100 with video", StatusVideoUploaded, 100, true, StatusCompleted},
		{"mid progress", StatusAnalyzing, 40, false, StatusAnalyzing},
		{"mid progress with video", StatusVideoUploaded, 70, true, StatusVideoUploaded},

		// A worker that raced past a deletion must not move the status.
		{"cancelled unchanged", StatusCancelled, 100, true, StatusCancelled},
		{"failed unchanged", StatusFailed, 100, true, StatusFailed},
		{"completed unchanged", StatusCompleted, 100, true, StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextOnProgress(tc.current, tc.progress, tc.videoPresent); got != tc.want {
				t.Fatalf("NextOnProgress(%s, %d, %v) = %s, want %s",
					tc.current, tc.progress, tc.videoPresent, got, tc.want)
			}
		})
	}
}

func TestClampProgress(t *testing.T) {
	cases := []struct {
		stored, reported, want int
	}{
		{0, 10, 10},
		{40, 40, 40},  // duplicate delivery
		{70, 40, 70},  // out-of-order delivery never regresses
		{0, -5, 0},    // below range
		{0, 250, 100}, // above range
		{100, 40, 100},
		{100, 100, 100},
	}
	for _, tc := range cases {
		if got := ClampProgress(tc.stored, tc.reported); got != tc.want {
			t.Errorf("ClampProgress(%d, %d) = %d, want %d", tc.stored, tc.reported, got, tc.want)
		}
	}
}

func TestDefaultAnalysisConfig_Normalize(t *testing.T) {
	def := DefaultAnalysisConfig()
	if def.Confidence != 0.5 || def.MaxHands != 2 {
		t.Fatalf("unexpected defaults: %+v", def)
	}

	// Zero config fills everything.
	got := AnalysisConfig{}.Normalize()
	if got.Confidence != 0.5 || got.MaxHands != 2 {
		t.Fatalf("Normalize zero: %+v", got)
	}
	if len(got.Filters) == 0 || len(got.AnalysisKinds) == 0 || len(got.OutputFormats) == 0 {
		t.Fatalf("Normalize zero left empty slices: %+v", got)
	}

	// Partial config keeps what the caller set.
	got = AnalysisConfig{Confidence: 0.8, AnalysisKinds: []string{"tremor"}}.Normalize()
	if got.Confidence != 0.8 {
		t.Fatalf("Normalize overwrote confidence: %+v", got)
	}
	if len(got.AnalysisKinds) != 1 || got.AnalysisKinds[0] != "tremor" {
		t.Fatalf("Normalize overwrote kinds: %+v", got)
	}
	if got.MaxHands != 2 {
		t.Fatalf("Normalize did not fill max hands: %+v", got)
	}

	// Out-of-range confidence falls back.
	got = AnalysisConfig{Confidence: 1.7}.Normalize()
	if got.Confidence != 0.5 {
		t.Fatalf("Normalize kept out-of-range confidence: %+v", got)
	}
}
