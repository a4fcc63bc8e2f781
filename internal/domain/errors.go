package domain

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller is expected to react.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindUpstream         Kind = "upstream_transport"
	KindValidation       Kind = "validation"
	KindAuthFlow         Kind = "auth_flow"
	KindNotAuthenticated Kind = "not_authenticated"
)

type Code string

const (
	CodeConfiguration       Code = "configuration"
	CodeSearchConfiguration Code = "search_configuration"
	CodeSearchUnavailable   Code = "search_unavailable"
	CodeUpstream            Code = "upstream"
	CodeGenerationTimeout   Code = "generation_timeout"
	CodeValidation          Code = "validation"
	CodeContentTooShort     Code = "content_too_short"
	CodeReviewAborted       Code = "review_aborted"
	CodeAuthorizationDenied Code = "authorization_denied"
	CodeMissingVerifier     Code = "missing_verifier"
	CodeTokenExchange       Code = "token_exchange"
	CodeProfileFetch        Code = "profile_fetch"
	CodeMissingIdentity     Code = "missing_identity"
	CodeNotAuthenticated    Code = "not_authenticated"
	CodePlatformAPI         Code = "platform_api"
)

// Error is the single error type crossing package boundaries. Payload carries
// the raw upstream body for platform API failures.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Payload string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinels work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrConfiguration       = &Error{Kind: KindConfiguration, Code: CodeConfiguration}
	ErrSearchConfiguration = &Error{Kind: KindConfiguration, Code: CodeSearchConfiguration}
	ErrSearchUnavailable   = &Error{Kind: KindUpstream, Code: CodeSearchUnavailable}
	ErrUpstream            = &Error{Kind: KindUpstream, Code: CodeUpstream}
	ErrGenerationTimeout   = &Error{Kind: KindUpstream, Code: CodeGenerationTimeout}
	ErrValidation          = &Error{Kind: KindValidation, Code: CodeValidation}
	ErrContentTooShort     = &Error{Kind: KindValidation, Code: CodeContentTooShort}
	ErrReviewAborted       = &Error{Kind: KindValidation, Code: CodeReviewAborted}
	ErrAuthorizationDenied = &Error{Kind: KindAuthFlow, Code: CodeAuthorizationDenied}
	ErrMissingVerifier     = &Error{Kind: KindAuthFlow, Code: CodeMissingVerifier}
	ErrTokenExchange       = &Error{Kind: KindAuthFlow, Code: CodeTokenExchange}
	ErrProfileFetch        = &Error{Kind: KindAuthFlow, Code: CodeProfileFetch}
	ErrMissingIdentity     = &Error{Kind: KindAuthFlow, Code: CodeMissingIdentity}
	ErrNotAuthenticated    = &Error{Kind: KindNotAuthenticated, Code: CodeNotAuthenticated}
	ErrPlatformAPI         = &Error{Kind: KindUpstream, Code: CodePlatformAPI}
)

// New derives an error from a sentinel with a concrete message and cause.
func New(sentinel *Error, message string, cause error) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: message,
		Cause:   cause,
	}
}

func Configuration(message string) *Error {
	return New(ErrConfiguration, message, nil)
}

func Validation(message string) *Error {
	return New(ErrValidation, message, nil)
}

func Upstream(message string, cause error) *Error {
	return New(ErrUpstream, message, cause)
}

func NotAuthenticated(message string) *Error {
	return New(ErrNotAuthenticated, message, nil)
}

// PlatformAPI records the status code and the platform's error payload.
func PlatformAPI(platform string, status int, payload string) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    CodePlatformAPI,
		Message: fmt.Sprintf("%s API error (%d)", platform, status),
		Payload: payload,
	}
}

// AsError extracts the *Error from a chain.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if err == nil || !errors.As(err, &typed) {
		return nil, false
	}
	return typed, true
}

// KindOf returns the kind of err, or the empty string for foreign errors.
func KindOf(err error) Kind {
	if typed, ok := AsError(err); ok {
		return typed.Kind
	}
	return ""
}
