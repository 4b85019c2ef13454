// Deterministic object keys. Every artifact of a session lives under
// {category}/{correlationID}/{artifact}.{ext} so that both handlers and the
// workers can derive a key from the correlation id alone.
package storage

import "fmt"

const (
	categoryVideo     = "video"
	categoryKeypoints = "keypoints"
	categoryReports   = "reports"
)

// VideoKey returns the object key of the raw video payload.
func VideoKey(correlationID string) string {
	return fmt.Sprintf("%s/%s/recording.webm", categoryVideo, correlationID)
}

// ProcessedVideoKey returns the object key of the transcoded/overlay video
// produced by the transcode job.
func ProcessedVideoKey(correlationID string) string {
	return fmt.Sprintf("%s/%s/processed.mp4", categoryVideo, correlationID)
}

// KeypointsKey returns the object key of the raw keypoint time series.
func KeypointsKey(correlationID string) string {
	return fmt.Sprintf("%s/%s/keypoints.json", categoryKeypoints, correlationID)
}

// ReportKey returns the object key of the generated analysis report.
func ReportKey(correlationID string) string {
	return fmt.Sprintf("%s/%s/report.json", categoryReports, correlationID)
}

// SessionKeys lists every key a session may own, in the order the cleanup
// worker deletes them.
func SessionKeys(correlationID string) []string {
	return []string{
		VideoKey(correlationID),
		ProcessedVideoKey(correlationID),
		KeypointsKey(correlationID),
		ReportKey(correlationID),
	}
}
