package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by every stage. Adapters wrap these with %w so callers
// classify with errors.Is.
var (
	ErrInvalidUpload        = errors.New("invalid upload")
	ErrUploadTooLarge       = fmt.Errorf("%w: file too large", ErrInvalidUpload)
	ErrStorage              = errors.New("storage failure")
	ErrResultStore          = fmt.Errorf("%w: result not saved", ErrStorage)
	ErrTranscription        = errors.New("transcription failure")
	ErrSummarizationNetwork = errors.New("summarization service unreachable")
	ErrSummarizationAuth    = errors.New("summarization authentication failed")
	ErrMalformedOutput      = errors.New("summarization response malformed")
)

// StageError records the pipeline stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind returns a short label for err, used in logs, metrics and the run ledger.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidUpload):
		return "invalid_upload"
	case errors.Is(err, ErrResultStore):
		return "result_storage"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrSummarizationAuth):
		return "summarization_auth"
	case errors.Is(err, ErrMalformedOutput):
		return "summarization_malformed"
	case errors.Is(err, ErrSummarizationNetwork):
		return "summarization_network"
	default:
		return "internal"
	}
}
