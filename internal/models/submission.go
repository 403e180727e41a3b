package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeedbackType categorizes a submission.
const (
	TypeBug     = "bug"
	TypeFeature = "feature"
	TypeDesign  = "design"
)

// Priority levels recognized by the collection endpoint.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Context is a best-effort snapshot of the environment a submission was made from.
// Absent fields are omitted on the wire, never defaulted to placeholder values.
type Context struct {
	Device       string            `json:"device,omitempty"`
	OS           string            `json:"os,omitempty"`
	OSVersion    string            `json:"os_version,omitempty"`
	Arch         string            `json:"arch,omitempty"`
	ScreenWidth  int               `json:"screen_width,omitempty"`
	ScreenHeight int               `json:"screen_height,omitempty"`
	Locale       string            `json:"locale,omitempty"`
	Timezone     string            `json:"timezone,omitempty"`
	AppVersion   string            `json:"app_version,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// Submission is a user-authored feedback report. Immutable once constructed;
// produced fresh per user action.
type Submission struct {
	Type           string   `json:"type"`
	Priority       string   `json:"priority"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	SubmitterName  string   `json:"submitter_name,omitempty"`
	SubmitterEmail string   `json:"submitter_email,omitempty"`
	WidgetVersion  string   `json:"widget_version"`
	Context        *Context `json:"context,omitempty"`
}

// QueuedSubmission wraps a submission with queue bookkeeping. The ID is assigned
// once at enqueue time and never reused; RetryCount only ever increases, by exactly
// one per failed delivery attempt.
type QueuedSubmission struct {
	ID            string     `json:"id"`
	Submission    Submission `json:"submission"`
	ScreenshotRef string     `json:"screenshot_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	RetryCount    int        `json:"retry_count"`
}

// NewQueueID builds a unique queue identifier: enqueue timestamp plus a random
// suffix, so ids sort roughly by creation time and survive clock collisions.
func NewQueueID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// ValidType reports whether t is one of the recognized feedback types.
func ValidType(t string) bool {
	switch t {
	case TypeBug, TypeFeature, TypeDesign:
		return true
	}
	return false
}

// ValidPriority reports whether p is one of the recognized priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}
