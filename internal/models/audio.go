package models

import "time"

// UploadedAudio is a stored upload owned by exactly one pipeline run.
// It must be released once the run finishes, whatever the outcome.
type UploadedAudio struct {
	ID         string        `json:"id"`
	FileName   string        `json:"file_name"`
	StoredPath string        `json:"stored_path"`
	Extension  string        `json:"extension"`
	MimeType   string        `json:"mime_type"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}
