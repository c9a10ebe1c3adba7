package results

import (
	"context"
	"errors"

	"meetscribe/internal/models"
)

// ErrNotFound is returned for unknown or expired result ids.
var ErrNotFound = errors.New("result not found")

// Store keeps finished summaries until their download window closes.
type Store interface {
	Save(ctx context.Context, result *models.SummaryResult) error
	Get(ctx context.Context, id string) (*models.SummaryResult, error)
}
