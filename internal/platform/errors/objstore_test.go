package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

func s3(code string, status int) error {
	return minio.ErrorResponse{Code: code, StatusCode: status, Message: code}
}

func TestObjectStoreErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{s3("NoSuchKey", 404), ErrorCodeNotFound},
		{s3("NoSuchBucket", 404), ErrorCodeNotFound},
		{s3("AccessDenied", 403), ErrorCodeForbidden},
		{s3("SlowDown", 503), ErrorCodeTooManyRequests},
		{s3("InternalError", 500), ErrorCodeUnavailable},
		{s3("", 502), ErrorCodeUnavailable},
		{s3("", 429), ErrorCodeTooManyRequests},
		{s3("EntityTooLarge", 400), ErrorCodeStorage},
	}
	for _, c := range cases {
		got, ok := ObjectStoreErrorCode(fmt.Errorf("wrapped: %w", c.err))
		if !ok || got != c.want {
			t.Fatalf("ObjectStoreErrorCode(%v) = %v,%v want %v", c.err, got, ok, c.want)
		}
	}
	if _, ok := ObjectStoreErrorCode(stderrs.New("plain")); ok {
		t.Fatalf("plain error classified as S3 error")
	}
}

func TestFromObjectStore(t *testing.T) {
	if FromObjectStore(nil, "x") != nil {
		t.Fatalf("FromObjectStore(nil) should be nil")
	}
	if got := CodeOf(FromObjectStore(s3("NoSuchKey", 404), "get")); got != ErrorCodeNotFound {
		t.Fatalf("NoSuchKey code = %v", got)
	}
	if got := CodeOf(FromObjectStoref(io.ErrUnexpectedEOF, "get %s", "2015-01-01-0.json.gz")); got != ErrorCodeUnavailable {
		t.Fatalf("unexpected EOF code = %v", got)
	}
	if got := CodeOf(FromObjectStore(stderrs.New("weird"), "put")); got != ErrorCodeStorage {
		t.Fatalf("fallback code = %v", got)
	}
}

func TestIsObjectStoreRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"slow down", s3("SlowDown", 503), true},
		{"5xx", s3("", 500), true},
		{"429", s3("", 429), true},
		{"not found", s3("NoSuchKey", 404), false},
		{"denied", s3("AccessDenied", 403), false},
		{"eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"reset", stderrs.New("read tcp: connection reset by peer"), true},
		{"canceled", context.Canceled, false},
		{"plain", stderrs.New("nope"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsObjectStoreRetryable(c.err); got != c.want {
				t.Fatalf("IsObjectStoreRetryable = %v, want %v", got, c.want)
			}
		})
	}
}
