package api

import (
	"context"
	"errors"
	"net/http"

	"meetscribe/internal/models"
	"meetscribe/internal/worker"
)

var errCSRF = errors.New("csrf token mismatch")

type errorView struct {
	status  int
	message string
}

// describeError maps a failure onto the response status and the message
// shown above the upload form. Order matters: ErrUploadTooLarge is also an
// ErrInvalidUpload, and a summarization call cut off by the request deadline
// carries both the network kind and the context error.
func describeError(err error) errorView {
	switch {
	case errors.Is(err, errCSRF):
		return errorView{http.StatusForbidden, "Your session expired. Reload the page and try again."}
	case errors.Is(err, models.ErrUploadTooLarge):
		return errorView{http.StatusRequestEntityTooLarge, "The file is too large."}
	case errors.Is(err, models.ErrInvalidUpload):
		return errorView{http.StatusBadRequest, "Please choose an MP3, WAV, M4A or FLAC file."}
	case errors.Is(err, models.ErrResultStore):
		return errorView{http.StatusInternalServerError, "Could not save the summary. Please try again."}
	case errors.Is(err, models.ErrStorage):
		return errorView{http.StatusInternalServerError, "Could not store the uploaded file."}
	case errors.Is(err, models.ErrTranscription):
		return errorView{http.StatusInternalServerError, "Could not transcribe audio."}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errorView{http.StatusServiceUnavailable, "The request timed out. Please try again."}
	case errors.Is(err, models.ErrSummarizationAuth):
		return errorView{http.StatusBadGateway, "Summarization service rejected the credentials."}
	case errors.Is(err, models.ErrMalformedOutput):
		return errorView{http.StatusBadGateway, "Summarization response malformed."}
	case errors.Is(err, models.ErrSummarizationNetwork):
		return errorView{http.StatusBadGateway, "Could not reach summarization service."}
	case errors.Is(err, worker.ErrDispatcherBusy), errors.Is(err, worker.ErrDispatcherClosed):
		return errorView{http.StatusServiceUnavailable, "The server is busy. Please try again in a minute."}
	default:
		return errorView{http.StatusInternalServerError, "Something went wrong. Please try again."}
	}
}
