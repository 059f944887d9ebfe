package search

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrConfiguration = errors.New("search: configuration error")
	ErrNotFound      = errors.New("search: not found")
	ErrBackend       = errors.New("search: backend error")
	ErrTranslation   = errors.New("search: option cannot be translated")
	ErrNoAdapter     = errors.New("search: no adapter registered for engine")
	ErrIndexNotFound = errors.New("search: index is not configured")
)

// ConfigurationError reports missing or invalid connection or index settings.
// It is returned before any network call is made.
type ConfigurationError struct {
	Engine Engine
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("search: invalid configuration")
	if e.Engine != "" {
		b.WriteString(" for " + string(e.Engine))
	}
	if e.Field != "" {
		b.WriteString(" (" + e.Field + ")")
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	return b.String()
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NotFoundError reports an absent index or document
type NotFoundError struct {
	Engine Engine
	Index  string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("search: document %q not found in %s index %q", e.ID, e.Engine, e.Index)
	}
	return fmt.Sprintf("search: %s index %q not found", e.Engine, e.Index)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// BackendError is any other failure returned by a remote engine.
// Status and Body keep what the backend sent.
type BackendError struct {
	Engine Engine
	Op     string
	Status int
	Body   string
	Err    error
}

// NewBackendError wraps err as a BackendError, keeping an existing one untouched
func NewBackendError(engine Engine, op string, status int, body string, err error) error {
	var be *BackendError
	if err != nil && errors.As(err, &be) {
		return err
	}
	return &BackendError{Engine: engine, Op: op, Status: status, Body: body, Err: err}
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "search: %s %s failed", e.Engine, e.Op)
	if e.Status > 0 {
		fmt.Fprintf(&b, " with status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if e.Body != "" {
		body := e.Body
		if len(body) > 512 {
			body = body[:512] + "..."
		}
		b.WriteString(": " + body)
	}
	return b.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is matches ErrBackend, and ErrNotFound for 404 responses
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrBackend:
		return true
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// TranslationError reports an option value the target engine cannot express
type TranslationError struct {
	Engine Engine
	Option string
	Field  string
	Reason string
}

func (e *TranslationError) Error() string {
	var b strings.Builder
	b.WriteString("search: cannot translate " + e.Option)
	if e.Field != "" {
		b.WriteString(" on field " + e.Field)
	}
	if e.Engine != "" {
		b.WriteString(" for " + string(e.Engine))
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	return b.String()
}

func (e *TranslationError) Is(target error) bool { return target == ErrTranslation }

// ItemFailure is one rejected item of a bulk request
type ItemFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason"`
}

// BulkError reports rejected items of a bulk request
type BulkError struct {
	Engine   Engine
	Op       string
	Total    int
	Failures []ItemFailure
}

func (e *BulkError) Error() string {
	msg := fmt.Sprintf("search: %s %s rejected %d of %d items", e.Engine, e.Op, len(e.Failures), e.Total)
	if len(e.Failures) > 0 {
		msg += ": " + e.Failures[0].Reason
	}
	return msg
}

func (e *BulkError) Is(target error) bool { return target == ErrBackend }

// IsNotFound reports whether err means an absent index or document
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration reports whether err is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsTranslation reports whether err is a translation error
func IsTranslation(err error) bool {
	return errors.Is(err, ErrTranslation)
}

// StatusOf returns the HTTP status carried by a BackendError, 0 otherwise
func StatusOf(err error) int {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}
