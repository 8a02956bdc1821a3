// Package apperr defines the error taxonomy shared across the pipeline.
//
// Every error that crosses a component boundary is either a plain wrapped
// error or an *Error carrying a machine-readable code. The pipeline and the
// HTTP layer branch on codes and kind predicates, never on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error identifier surfaced in API envelopes.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeUpstream   Code = "UPSTREAM_ERROR"
	CodeProcessing Code = "PROCESSING_ERROR"
	CodeInternal   Code = "INTERNAL"
)

// Kind refines a code into the specific failure classes of the pipeline.
type Kind string

const (
	KindEmptyInput               Kind = "empty_input"
	KindUnsupportedFormat        Kind = "unsupported_format"
	KindOversizedInput           Kind = "oversized_input"
	KindPromptValidation         Kind = "prompt_validation"
	KindConflictingModifications Kind = "conflicting_modifications"
	KindExtractionFormat         Kind = "extraction_format"
	KindNotFound                 Kind = "not_found"
	KindAlreadyCompleted         Kind = "already_completed"
	KindPrerequisiteNotMet       Kind = "prerequisite_not_met"
	KindUpstreamTransient        Kind = "upstream_transient"
	KindUpstreamPermanent        Kind = "upstream_permanent"
	KindPersistence              Kind = "persistence"
	KindStorage                  Kind = "storage"
	KindInvariantViolated        Kind = "invariant_violated"
	KindContentPolicy            Kind = "content_policy"
)

// Error is the canonical tagged error type.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Details []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to traverse the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches on code and kind so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && (t.Kind == "" || e.Kind == t.Kind)
}

// HTTPStatus maps the code to an HTTP response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeProcessing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newf(code Code, kind Kind, format string, args ...any) *Error {
	return &Error{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Input errors. Surfaced to the caller; never retried.

func EmptyInput(what string) *Error {
	return newf(CodeValidation, KindEmptyInput, "%s is empty", what)
}

func UnsupportedFormat(ext string) *Error {
	return newf(CodeValidation, KindUnsupportedFormat, "unsupported format %q", ext)
}

func OversizedInput(what string, limit int64) *Error {
	return newf(CodeValidation, KindOversizedInput, "%s exceeds limit of %d bytes", what, limit)
}

// PromptValidation carries the itemised validation issues.
func PromptValidation(issues []string) *Error {
	e := newf(CodeValidation, KindPromptValidation, "prompt failed validation")
	e.Details = issues
	return e
}

func ConflictingModifications(detail string) *Error {
	return newf(CodeConflict, KindConflictingModifications, "conflicting modifications: %s", detail)
}

// ExtractionFormat marks malformed structured model output.
func ExtractionFormat(cause error) *Error {
	return &Error{Code: CodeProcessing, Kind: KindExtractionFormat, Message: "malformed model output", Cause: cause}
}

// Not-found / conflict. The caller may correct and retry.

func NotFound(resource, id string) *Error {
	return newf(CodeNotFound, KindNotFound, "%s %s not found", resource, id)
}

func AlreadyCompleted(what string) *Error {
	return newf(CodeConflict, KindAlreadyCompleted, "%s already completed", what)
}

func PrerequisiteNotMet(detail string) *Error {
	return newf(CodeConflict, KindPrerequisiteNotMet, "prerequisite not met: %s", detail)
}

// Upstream errors.

// UpstreamTransient is retried internally before being surfaced.
func UpstreamTransient(cause error) *Error {
	return &Error{Code: CodeUpstream, Kind: KindUpstreamTransient, Message: "transient upstream failure", Cause: cause}
}

// UpstreamPermanent is never retried.
func UpstreamPermanent(cause error) *Error {
	return &Error{Code: CodeUpstream, Kind: KindUpstreamPermanent, Message: "permanent upstream failure", Cause: cause}
}

// Internal errors. These trigger chapter failure.

func Persistence(cause error) *Error {
	return &Error{Code: CodeInternal, Kind: KindPersistence, Message: "persistence failure", Cause: cause}
}

func Storage(cause error) *Error {
	return &Error{Code: CodeInternal, Kind: KindStorage, Message: "object storage failure", Cause: cause}
}

func InvariantViolated(detail string) *Error {
	return newf(CodeInternal, KindInvariantViolated, "invariant violated: %s", detail)
}

// ContentPolicyBlocked marks an image-model refusal. Not retried; the scene
// keeps an errored image and the chapter is not failed.
func ContentPolicyBlocked(detail string) *Error {
	return newf(CodeProcessing, KindContentPolicy, "content policy blocked: %s", detail)
}

// KindOf extracts the Kind of err, or "" for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the Code of err, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err is worth retrying: transient upstream
// failures and persistence hiccups only.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamTransient, KindPersistence:
		return true
	default:
		return false
	}
}

// IsInvariant reports whether err is an invariant violation, which always
// aborts the surrounding chapter.
func IsInvariant(err error) bool {
	return KindOf(err) == KindInvariantViolated
}
