package jobs

import "fmt"

// Normalized job statuses.
const (
	StatusPending               = "pending"
	StatusProcessing            = "processing"
	StatusCompleted             = "completed"
	StatusCompletedWithWarnings = "completed_with_warnings"
	StatusFailed                = "failed"
	StatusPublished             = "published"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is the single human-readable outcome of a job transition.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Transition reports whether moving from prev to cur is worth a notification.
// Both statuses must already be normalized.
func Transition(prev, cur string) bool {
	if prev == cur {
		return false
	}
	switch prev {
	case StatusPending, StatusProcessing:
	default:
		return false
	}
	switch cur {
	case StatusFailed, StatusCompleted, StatusCompletedWithWarnings:
		return true
	}
	return false
}

// SelectMessage picks the outcome message for a normalized status and result.
func SelectMessage(status string, r Result) (Message, bool) {
	var noun string
	var created, failed int
	switch v := r.(type) {
	case FitmentsResult:
		noun, created, failed = "fitments", v.Created, v.Failed
	case ProductsResult:
		noun, created, failed = "products", v.Created, v.Failed
	case UnknownResult:
		return Message{}, false
	default:
		return Message{}, false
	}

	switch {
	case status == StatusFailed && failed > 0:
		return Message{LevelError, fmt.Sprintf("Import failed: %d duplicate %s already exist", failed, noun)}, true
	case status == StatusCompletedWithWarnings && failed > 0:
		return Message{LevelWarning, fmt.Sprintf("Imported %d %s, %d duplicate %s were skipped", created, noun, failed, noun)}, true
	case status == StatusCompleted && created > 0:
		return Message{LevelSuccess, fmt.Sprintf("Imported %d %s", created, noun)}, true
	}
	return Message{}, false
}
