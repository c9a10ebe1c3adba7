package summarize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"meetscribe/internal/models"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/genai"
)

var statusPattern = regexp.MustCompile(`(?i)(?:status(?:\s*code)?|error|http)[^0-9]{0,3}([45]\d\d)\b|\b([45]\d\d)\s+(?:too many requests|unauthorized|forbidden|internal server error|bad gateway|service unavailable|gateway timeout|request timeout)`)

var authMarkers = []string{
	"unauthenticated",
	"permission_denied",
	"permission denied",
	"api key not valid",
	"invalid api key",
	"invalid_api_key",
	"incorrect api key",
	"authentication_error",
}

// classify maps a provider error onto the shared taxonomy. Errors that
// another attempt cannot fix come back wrapped in backoff.Permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrMalformedOutput) || errors.Is(err, models.ErrSummarizationAuth) {
		return backoff.Permanent(err)
	}
	if errors.Is(err, models.ErrSummarizationNetwork) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrSummarizationNetwork, err)
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		if hasAuthMarker(apiErr.Message) || hasAuthMarker(apiErr.Status) {
			return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrSummarizationAuth, err))
		}
		return classifyStatus(apiErr.Code, err)
	}

	msg := strings.ToLower(err.Error())
	if hasAuthMarker(msg) {
		return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrSummarizationAuth, err))
	}
	if code := statusFromMessage(msg); code != 0 {
		return classifyStatus(code, err)
	}
	// quota, transport and unrecognized failures are treated as transient
	return fmt.Errorf("%w: %v", models.ErrSummarizationNetwork, err)
}

func classifyStatus(code int, err error) error {
	switch {
	case code == 401 || code == 403:
		return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrSummarizationAuth, err))
	case code == 408 || code == 429 || code >= 500:
		return fmt.Errorf("%w: %v", models.ErrSummarizationNetwork, err)
	default:
		return backoff.Permanent(fmt.Errorf("%w: %v", models.ErrSummarizationNetwork, err))
	}
}

func hasAuthMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range authMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func statusFromMessage(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if code, err := strconv.Atoi(g); err == nil {
			return code
		}
	}
	return 0
}
