package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNotSupported means the adapter lacks the capability; callers try another
	// capability or provider.
	ErrNotSupported = errors.New("operation not supported by provider")
	// ErrSubmissionFailed means the vendor or transport rejected this attempt.
	ErrSubmissionFailed = errors.New("provider submission failed")
	// ErrUnknownProvider means the active alias has no registered factory.
	ErrUnknownProvider = errors.New("unknown provider")
)

// SubmissionError classifies provider call failures as transient/permanent.
// It matches ErrSubmissionFailed under errors.Is.
type SubmissionError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, ErrSubmissionFailed.Error())

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var submissionErr *SubmissionError
	if errors.As(err, &submissionErr) {
		return submissionErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// CheckResponse translates a resty result into nil or a *SubmissionError so that
// transport errors never leave an adapter unclassified.
func CheckResponse(response *resty.Response, err error) error {
	if err != nil {
		return &SubmissionError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &SubmissionError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &SubmissionError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
