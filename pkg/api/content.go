package api

import "time"

// ContentRecord is a piece of content previously produced by a run. The
// dedup helper compares new prompts against these records.
type ContentRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
