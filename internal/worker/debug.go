package worker

import (
	"os"
	"strings"

	"meetscribe/internal/logging"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("MEETSCRIBE_WORKER_DEBUG"), "1")

func debugLog(msg string, keysAndValues ...any) {
	if workerDebugEnabled {
		logging.Named("worker").Infow(msg, keysAndValues...)
	}
}
