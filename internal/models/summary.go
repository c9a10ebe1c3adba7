package models

import "time"

// StructuredSummary is the three-part output of a summarization.
type StructuredSummary struct {
	Summary      string   `json:"summary"`
	KeyDecisions []string `json:"key_decisions"`
	ActionItems  []string `json:"action_items"`
}

// Clone returns a deep copy so callers never share the item slices.
func (s *StructuredSummary) Clone() *StructuredSummary {
	if s == nil {
		return nil
	}
	return &StructuredSummary{
		Summary:      s.Summary,
		KeyDecisions: append([]string(nil), s.KeyDecisions...),
		ActionItems:  append([]string(nil), s.ActionItems...),
	}
}

// SummaryResult is a finished summary kept for rendering and download.
type SummaryResult struct {
	ID        string            `json:"id"`
	FileName  string            `json:"file_name"`
	Summary   StructuredSummary `json:"summary"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Clone returns a deep copy of the result.
func (r *SummaryResult) Clone() *SummaryResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Summary = *r.Summary.Clone()
	return &c
}

// PipelineRun is the ledger entry written for every processed upload.
// It never carries audio or transcript content.
type PipelineRun struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	State       string    `json:"state"`
	FailedStage string    `json:"failed_stage,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
