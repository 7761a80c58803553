package enums

import "fmt"

// GenerationJobStatus tracks a generation job through its state machine:
// PENDING -> PROCESSING -> {COMPLETED, FAILED}, with FAILED -> PENDING
// allowed while retries remain, and CANCELLED reachable from any
// pre-terminal state.
type GenerationJobStatus string

const (
	GenerationJobStatusPending    GenerationJobStatus = "PENDING"
	GenerationJobStatusProcessing GenerationJobStatus = "PROCESSING"
	GenerationJobStatusCompleted  GenerationJobStatus = "COMPLETED"
	GenerationJobStatusFailed     GenerationJobStatus = "FAILED"
	GenerationJobStatusCancelled  GenerationJobStatus = "CANCELLED"
)

var validGenerationJobStatuses = []GenerationJobStatus{
	GenerationJobStatusPending,
	GenerationJobStatusProcessing,
	GenerationJobStatusCompleted,
	GenerationJobStatusFailed,
	GenerationJobStatusCancelled,
}

// String implements fmt.Stringer.
func (g GenerationJobStatus) String() string {
	return string(g)
}

// IsValid reports whether the value is known.
func (g GenerationJobStatus) IsValid() bool {
	for _, candidate := range validGenerationJobStatuses {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGenerationJobStatus converts raw input into a GenerationJobStatus.
func ParseGenerationJobStatus(value string) (GenerationJobStatus, error) {
	for _, candidate := range validGenerationJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid generation job status %q", value)
}
