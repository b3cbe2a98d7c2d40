package domain

import "time"

// ClassificationResult is the outcome of scoring one event for one task.
type ClassificationResult struct {
	Task          Task    `json:"task"`
	Probability   float64 `json:"probability"`
	Label         bool    `json:"label"`
	BundleVersion string  `json:"bundle_version"`

	// Threshold is the bundle's decision threshold. It feeds the alert bar
	// and is not part of the results log.
	Threshold float64 `json:"-"`
}

// ResultRecord is one line of the results log: every classification made for
// a single event, and whether any of them crossed its alert bar.
type ResultRecord struct {
	EventID    string                 `json:"event_id"`
	Provider   string                 `json:"provider,omitempty"`
	EventTime  time.Time              `json:"event_time"`
	Results    []ClassificationResult `json:"results"`
	AlertFired bool                   `json:"alert_fired"`
}

// AlertRecord is written once per (event, task) whose probability crosses the
// task's alert bar. Records are never updated after they are written.
type AlertRecord struct {
	AlertID       string    `json:"alert_id"`
	EventID       string    `json:"event_id"`
	Title         string    `json:"title,omitempty"`
	EventTime     time.Time `json:"event_time"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Depth         float64   `json:"depth"`
	Magnitude     float64   `json:"magnitude"`
	Task          Task      `json:"task"`
	Probability   float64   `json:"probability"`
	Threshold     float64   `json:"threshold"`
	BundleVersion string    `json:"bundle_version"`
	DetectedAt    time.Time `json:"detected_at"`
}

// EventRef returns the id used in output records: the external id when the
// provider supplied one, otherwise the dedup key.
func EventRef(e CanonicalEvent) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Key()
}

// AlertKey identifies the single alert an (event, task) pair may produce.
// eventKey is the event's dedup key (see CanonicalEvent.Key).
func AlertKey(eventKey string, task Task) string {
	return eventKey + "|" + task.String()
}
