package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeAuth               Code = "AUTH_ERROR"
	CodeDownload           Code = "DOWNLOAD_ERROR"
	CodeSizeThreshold      Code = "SIZE_THRESHOLD"
	CodeParse              Code = "PARSE_ERROR"
	CodeDecode             Code = "DECODE_WARNING"
	CodeMalformedRow       Code = "MALFORMED_ROW"
	CodeUnresolvedIdentity Code = "UNRESOLVED_IDENTITY"
	CodeBatchWrite         Code = "BATCH_WRITE"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDependency         Code = "DEPENDENCY_ERROR"
	CodeConflict           Code = "CONFLICT"
)

// Severity describes how far an error propagates inside one country run.
type Severity string

const (
	// SeverityFatal stops the current country; the run moves on to the next one.
	SeverityFatal Severity = "fatal"
	// SeveritySkip stops the current country without treating it as a failure.
	SeveritySkip Severity = "skip"
	// SeverityWarning is counted and reported; processing continues.
	SeverityWarning Severity = "warning"
)

type Metadata struct {
	Retryable bool
	Severity  Severity
	Summary   string
}

var metadataByCode = map[Code]Metadata{
	CodeAuth: {
		Retryable: false,
		Severity:  SeverityFatal,
		Summary:   "portal authentication failed",
	},
	CodeDownload: {
		Retryable: true,
		Severity:  SeverityFatal,
		Summary:   "export download failed",
	},
	CodeSizeThreshold: {
		Retryable: false,
		Severity:  SeveritySkip,
		Summary:   "export below minimum size",
	},
	CodeParse: {
		Retryable: false,
		Severity:  SeverityFatal,
		Summary:   "malformed workbook",
	},
	CodeDecode: {
		Retryable: false,
		Severity:  SeverityWarning,
		Summary:   "undecodable rank cell",
	},
	CodeMalformedRow: {
		Retryable: false,
		Severity:  SeverityWarning,
		Summary:   "row excluded from merge",
	},
	CodeUnresolvedIdentity: {
		Retryable: false,
		Severity:  SeverityWarning,
		Summary:   "rank without resolved keyword",
	},
	CodeBatchWrite: {
		Retryable: true,
		Severity:  SeverityWarning,
		Summary:   "batch write failed",
	},
	CodeValidation: {
		Retryable: false,
		Severity:  SeverityFatal,
		Summary:   "validation failed",
	},
	CodeInternal: {
		Retryable: true,
		Severity:  SeverityFatal,
		Summary:   "internal error",
	},
	CodeDependency: {
		Retryable: true,
		Severity:  SeverityFatal,
		Summary:   "dependency unavailable",
	},
	CodeConflict: {
		Retryable: true,
		Severity:  SeverityFatal,
		Summary:   "another run holds the lock",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first typed error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var typed *Error
		if !stdErrors.As(err, &typed) {
			return false
		}
		if typed.code == code {
			return true
		}
		err = typed.cause
	}
	return false
}
