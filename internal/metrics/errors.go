package metrics

import (
	"context"
	"io/fs"

	"github.com/pkg/errors"

	"github.com/torosent/streamfire/internal/producer"
	"github.com/torosent/streamfire/internal/upload"
)

// Error kinds used as keys of Stats.Errors.
const (
	KindRequestedFailure = "Requested failure"
	KindProducerClosed   = "Producer closed"
	KindSchedulerStopped = "Scheduler stopped"
	KindUnknownSession   = "Unknown upload session"
	KindUploaderClosed   = "Uploader closed"
	KindCanceled         = "Canceled"
	KindDeadline         = "Context deadline exceeded"
	KindFileSystem       = "File system error"
	KindOther            = "Error"
)

var sentinelKinds = []struct {
	target error
	kind   string
}{
	{producer.ErrClosed, KindProducerClosed},
	{producer.ErrSchedulerStopped, KindSchedulerStopped},
	{upload.ErrUnknownSession, KindUnknownSession},
	{upload.ErrClosed, KindUploaderClosed},
	{context.Canceled, KindCanceled},
	{context.DeadlineExceeded, KindDeadline},
}

// ErrorKind classifies an attachment error for the breakdown in Stats.Errors.
// Injected failures win over anything they wrap.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var failure *producer.FailureError
	if errors.As(err, &failure) {
		return KindRequestedFailure
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.target) {
			return s.kind
		}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindFileSystem
	}
	return KindOther
}
