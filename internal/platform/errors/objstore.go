package errors

// Object store helpers for mapping minio/S3 errors to project ErrorCode and retry semantics

import (
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
)

// S3 error codes treated as transient
var transientS3Codes = map[string]struct{}{
	"InternalError":              {},
	"ServiceUnavailable":         {},
	"SlowDown":                   {},
	"RequestTimeout":             {},
	"RequestTimeTooSkewed":       {},
	"OperationAborted":           {},
	"XMinioServerNotInitialized": {},
}

// ExtractS3Error returns the S3 error response carried by err, if any
func ExtractS3Error(err error) (minio.ErrorResponse, bool) {
	var er minio.ErrorResponse
	if stderrs.As(err, &er) {
		return er, true
	}
	var erp *minio.ErrorResponse
	if stderrs.As(err, &erp) && erp != nil {
		return *erp, true
	}
	return minio.ErrorResponse{}, false
}

// ObjectStoreErrorCode maps an object store error to an ErrorCode with an ok flag
// !ok means err wasn't an S3 error response
func ObjectStoreErrorCode(err error) (ErrorCode, bool) {
	er, ok := ExtractS3Error(err)
	if !ok {
		return ErrorCodeUnknown, false
	}
	switch er.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchUpload":
		return ErrorCodeNotFound, true
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
		return ErrorCodeForbidden, true
	case "SlowDown":
		return ErrorCodeTooManyRequests, true
	}
	if _, ok := transientS3Codes[er.Code]; ok {
		return ErrorCodeUnavailable, true
	}
	switch {
	case er.StatusCode == http.StatusNotFound:
		return ErrorCodeNotFound, true
	case er.StatusCode == http.StatusForbidden:
		return ErrorCodeForbidden, true
	case er.StatusCode == http.StatusTooManyRequests:
		return ErrorCodeTooManyRequests, true
	case er.StatusCode >= 500:
		return ErrorCodeUnavailable, true
	}
	return ErrorCodeStorage, true
}

// FromObjectStore wraps an object store error with a mapped ErrorCode and message.
// Transport failures that never produced an S3 response are classified Unavailable.
// If err is nil, returns nil
func FromObjectStore(err error, msg string) error {
	if err == nil {
		return nil
	}
	if code, ok := ObjectStoreErrorCode(err); ok {
		return Wrap(err, code, msg)
	}
	if isTransportError(err) {
		return Wrap(err, ErrorCodeUnavailable, msg)
	}
	return Wrap(err, ErrorCodeStorage, msg)
}

// FromObjectStoref is the formatted variant of FromObjectStore
func FromObjectStoref(err error, format string, a ...any) error {
	return FromObjectStore(err, fmt.Sprintf(format, a...))
}

// IsObjectStoreRetryable reports whether an object store error is transient:
// throttling, 5xx responses and dropped connections
func IsObjectStoreRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	if er, ok := ExtractS3Error(err); ok {
		if _, ok := transientS3Codes[er.Code]; ok {
			return true
		}
		return er.StatusCode == http.StatusTooManyRequests || er.StatusCode >= 500
	}
	return isTransportError(err)
}

func isTransportError(err error) bool {
	if stderrs.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if stderrs.As(err, &ne) {
		return true
	}
	s := strings.ToLower(Root(err).Error())
	return strings.Contains(s, "connection reset by peer") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "connection refused")
}
