// Session lifecycle state machine.
//
// Status is a function of two independent arrival events (keypoints, video)
// plus one monotonic progress counter, not a linear pipeline. The transition
// logic is kept here as pure functions so that the ingestion handlers and the
// analysis worker share one implementation instead of re-deriving it per call
// site. The repo layer applies the result with a compare-and-swap; these
// functions never touch storage.
package domain

// Status enumerates the lifecycle states of a Session.
type Status string

const (
	// StatusKeypointsUploaded: keypoints payload persisted, analysis job not
	// yet enqueued (or the enqueue failed — observable, never silent).
	StatusKeypointsUploaded Status = "keypoints_uploaded"
	// StatusAnalyzing: analysis job enqueued or running, video not present.
	StatusAnalyzing Status = "analyzing"
	// StatusVideoUploaded: both payloads present, analysis still short of 100.
	StatusVideoUploaded Status = "video_uploaded"
	// StatusCompleted: both payloads present and analysis reached 100.
	StatusCompleted Status = "completed"
	// StatusFailed: explicitly marked failed by a handler. A recorded
	// analysis error alone does not move a session here.
	StatusFailed Status = "failed"
	// StatusCancelled: soft-deleted. Terminal except for hard deletion.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusKeypointsUploaded, StatusAnalyzing, StatusVideoUploaded,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s other
// than an explicit delete.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// NextOnVideo computes the status after a successful video upload given the
// session's state at write time. Video arriving after completion or
// cancellation does not regress the status.
func NextOnVideo(current Status, progress int) Status {
	switch {
	case progress >= 100:
		if current.Terminal() && current != StatusCompleted {
			return current
		}
		return StatusCompleted
	case current == StatusAnalyzing || current == StatusKeypointsUploaded:
		return StatusVideoUploaded
	default:
		return current
	}
}

// NextOnProgress computes the status after an analysis progress update.
// Reaching 100 flips to completed only when the video payload has been
// verified present; otherwise the session stays where it is and the progress
// value alone records the finished analysis.
func NextOnProgress(current Status, progress int, videoPresent bool) Status {
	if current.Terminal() {
		return current
	}
	if progress >= 100 && videoPresent {
		return StatusCompleted
	}
	return current
}

// ClampProgress enforces the monotonic, bounded progress invariant: the
// stored value never decreases and never leaves [0,100], under duplicate or
// out-of-order delivery.
func ClampProgress(stored, reported int) int {
	if reported < 0 {
		reported = 0
	}
	if reported > 100 {
		reported = 100
	}
	if reported < stored {
		return stored
	}
	return reported
}
