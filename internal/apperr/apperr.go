// Package apperr provides coded errors shared across the assistant.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code classifies an error so callers can pick a recovery path.
type Code string

const (
	CodeLLMTransport    Code = "LLM_TRANSPORT"
	CodeLLMMalformed    Code = "LLM_MALFORMED"
	CodeAmbiguousTime   Code = "AMBIGUOUS_TIME"
	CodeCalendarGateway Code = "CALENDAR_GATEWAY"
	CodeAuthRequired    Code = "AUTH_REQUIRED"
	CodeConfigInvalid   Code = "CONFIG_INVALID"
	CodeStorage         Code = "STORAGE"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInternal        Code = "INTERNAL"
)

// Error is a coded error with optional structured context.
type Error struct {
	Code       Code
	Message    string
	Underlying error
	Context    map[string]any
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Underlying.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var ae *Error
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Code == code {
			return true
		}
		err = ae.Underlying
	}
	return false
}

// CodeOf returns the outermost code in err's chain, CodeInternal for
// uncoded errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
