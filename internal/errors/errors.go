package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// MalformedDocument indicates a document could not be parsed into sections
	MalformedDocument ErrorCode = "MALFORMED_DOCUMENT"
	// SectionNotFound indicates an edit targeted a section path absent from the document
	SectionNotFound ErrorCode = "SECTION_NOT_FOUND"
	// MarkerNotFound indicates an insert marker matched no line in its scope
	MarkerNotFound ErrorCode = "MARKER_NOT_FOUND"
	// AmbiguousMarker indicates an insert marker matched several lines in strict mode
	AmbiguousMarker ErrorCode = "AMBIGUOUS_MARKER"
	// InvalidOperation indicates an edit operation is not well formed
	InvalidOperation ErrorCode = "INVALID_OPERATION"
	// BaseDocumentMissing indicates no base document exists for the requested id
	BaseDocumentMissing ErrorCode = "BASE_DOCUMENT_MISSING"
	// OverrideConflict indicates more than one full override at a single tier
	OverrideConflict ErrorCode = "OVERRIDE_CONFLICT"
	// InvalidLayer indicates an override layer file could not be decoded
	InvalidLayer ErrorCode = "INVALID_LAYER"
	// ProjectNotFound indicates a project id could not be mapped to a directory
	ProjectNotFound ErrorCode = "PROJECT_NOT_FOUND"
	// LockTimeout indicates a bounded lock wait expired
	LockTimeout ErrorCode = "LOCK_TIMEOUT"
	// TransientRead indicates a file changed while it was being read
	TransientRead ErrorCode = "TRANSIENT_READ"
	// PatternNotFound indicates no pattern exists with the given id
	PatternNotFound ErrorCode = "PATTERN_NOT_FOUND"
	// PatternNotReady indicates a promotion was requested for a pattern that is not ready
	PatternNotReady ErrorCode = "PATTERN_NOT_READY"
	// CanonicalEditMissing indicates a ready pattern has no reviewed edit to promote
	CanonicalEditMissing ErrorCode = "CANONICAL_EDIT_MISSING"
	// PromotionFailed indicates a promotion aborted and was rolled back
	PromotionFailed ErrorCode = "PROMOTION_FAILED"
	// InvalidRefinement indicates a refinement record failed validation
	InvalidRefinement ErrorCode = "INVALID_REFINEMENT"
	// StorageError indicates the ledger or base store could not be read or written
	StorageError ErrorCode = "STORAGE_ERROR"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Category groups error codes into the failure families callers act on.
type Category string

const (
	CategoryParse       Category = "ParseError"
	CategoryPatch       Category = "PatchError"
	CategoryResolution  Category = "ResolutionError"
	CategoryConcurrency Category = "ConcurrencyError"
	CategoryPromotion   Category = "PromotionError"
	CategoryValidation  Category = "ValidationError"
	CategoryInternal    Category = "InternalError"
)

var categories = map[ErrorCode]Category{
	MalformedDocument:    CategoryParse,
	InvalidLayer:         CategoryParse,
	SectionNotFound:      CategoryPatch,
	MarkerNotFound:       CategoryPatch,
	AmbiguousMarker:      CategoryPatch,
	InvalidOperation:     CategoryPatch,
	BaseDocumentMissing:  CategoryResolution,
	OverrideConflict:     CategoryResolution,
	ProjectNotFound:      CategoryResolution,
	LockTimeout:          CategoryConcurrency,
	TransientRead:        CategoryConcurrency,
	PatternNotReady:      CategoryPromotion,
	CanonicalEditMissing: CategoryPromotion,
	PromotionFailed:      CategoryPromotion,
	PatternNotFound:      CategoryValidation,
	InvalidRefinement:    CategoryValidation,
	StorageError:         CategoryInternal,
	InternalError:        CategoryInternal,
}

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditFile suggests editing an override or base file
	EditFile FixActionType = "edit-file"
	// Retry suggests retrying the same call after a short delay
	Retry FixActionType = "retry"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Path        string        `json:"path,omitempty"`
	Description string        `json:"description,omitempty"`
}

// PatchDetails locates a failed edit operation.
type PatchDetails struct {
	OpIndex int    `json:"opIndex"`
	Action  string `json:"action"`
	Path    string `json:"path,omitempty"`
	Marker  string `json:"marker,omitempty"`
	Matches int    `json:"matches,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Layer   string `json:"layer,omitempty"`
}

// SkrefError represents an engine error with code, message, and suggestions
type SkrefError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// NewSkrefError creates a new SkrefError. Suggested fixes default to the
// registered actions for the code.
func NewSkrefError(code ErrorCode, message string, cause error) *SkrefError {
	return &SkrefError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates a SkrefError with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *SkrefError {
	return NewSkrefError(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *SkrefError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *SkrefError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *SkrefError) WithDetails(details interface{}) *SkrefError {
	e.Details = details
	return e
}

// Category returns the failure family of the error code.
func (e *SkrefError) Category() Category {
	if c, ok := categories[e.Code]; ok {
		return c
	}
	return CategoryInternal
}

// Retryable reports whether the caller may retry the same call with backoff.
func (e *SkrefError) Retryable() bool {
	return e.Category() == CategoryConcurrency
}

// As finds the first SkrefError in err's chain.
func As(err error) (*SkrefError, bool) {
	var se *SkrefError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the code of the first SkrefError in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	if se, ok := As(err); ok {
		return se.Code
	}
	return InternalError
}

// CategoryOf returns the category of the first SkrefError in err's chain.
func CategoryOf(err error) Category {
	if se, ok := As(err); ok {
		return se.Category()
	}
	return CategoryInternal
}

// IsRetryable reports whether err is a concurrency error.
func IsRetryable(err error) bool {
	se, ok := As(err)
	return ok && se.Retryable()
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// Wrapf prefixes the message of the first SkrefError in err's chain, keeping
// its code, details and cause. Other errors become INTERNAL_ERROR.
func Wrapf(err error, format string, args ...interface{}) *SkrefError {
	prefix := fmt.Sprintf(format, args...)
	se, ok := As(err)
	if !ok {
		return NewSkrefError(InternalError, prefix, err)
	}
	return &SkrefError{
		Code:           se.Code,
		Message:        prefix + ": " + se.Message,
		Details:        se.Details,
		SuggestedFixes: se.SuggestedFixes,
		cause:          se.cause,
	}
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	BaseDocumentMissing: {
		{
			Type:        RunCommand,
			Command:     "skref base put <document> <file>",
			Description: "Register the shared base document",
		},
	},
	OverrideConflict: {
		{
			Type:        EditFile,
			Description: "Keep a single full override file per tier",
		},
	},
	ProjectNotFound: {
		{
			Type:        RunCommand,
			Command:     "skref project add <id> <path>",
			Description: "Register the project directory",
		},
	},
	SectionNotFound: {
		{
			Type:        EditFile,
			Description: "Fix the section path in the override file",
		},
	},
	MarkerNotFound: {
		{
			Type:        EditFile,
			Description: "Update the marker text to match a line in the target section",
		},
	},
	AmbiguousMarker: {
		{
			Type:        EditFile,
			Description: "Use a marker that matches exactly one line",
		},
	},
	LockTimeout: {
		{
			Type:        Retry,
			Description: "Another skref process holds the lock; retry shortly",
		},
	},
	TransientRead: {
		{
			Type:        Retry,
			Description: "An override file changed while being read; retry shortly",
		},
	},
	CanonicalEditMissing: {
		{
			Type:        RunCommand,
			Command:     "skref canonical <pattern> <patch-file>",
			Description: "Attach the reviewed edit to promote",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
