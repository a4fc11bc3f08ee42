package domain

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code exposed at the service boundary.
type Code string

const (
	CodeValidation              Code = "VALIDATION"
	CodeNotFound                Code = "NOT_FOUND"
	CodeForbidden               Code = "FORBIDDEN"
	CodeInvalidState            Code = "INVALID_STATE"
	CodeInvalidQuestion         Code = "INVALID_QUESTION"
	CodeUnsupportedQuestionType Code = "UNSUPPORTED_QUESTION_TYPE"
	CodeRoomNotOpen             Code = "ROOM_NOT_OPEN"
	CodeServerError             Code = "SERVER_ERROR"
)

// Error is the domain error type. Message is safe to show to callers; Cause is
// kept for logs only.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a domain error with a code and message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that keeps the underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeServerError when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServerError
}

var (
	// ErrRoomNotFound is returned when a room id or code does not resolve.
	ErrRoomNotFound = NewError(CodeNotFound, "room not found")
	// ErrParticipantNotFound is returned when a participant id does not resolve.
	ErrParticipantNotFound = NewError(CodeNotFound, "participant not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = NewError(CodeNotFound, "quiz not found")
	// ErrQuestionNotFound indicates a question id is not part of the quiz.
	ErrQuestionNotFound = NewError(CodeNotFound, "question not found")
	// ErrForbidden is returned when the caller is not the room host.
	ErrForbidden = NewError(CodeForbidden, "only the room host may do this")
	// ErrInvalidState is returned when a transition is not allowed from the current status.
	ErrInvalidState = NewError(CodeInvalidState, "room status does not allow this action")
	// ErrInvalidQuestion is returned when a question is not currently owed to the participant.
	ErrInvalidQuestion = NewError(CodeInvalidQuestion, "question is not pending for this participant")
	// ErrUnsupportedQuestionType is returned for question types the scorer does not know.
	ErrUnsupportedQuestionType = NewError(CodeUnsupportedQuestionType, "unsupported question type")
	// ErrRoomNotOpen is returned when joining or answering outside the active window.
	ErrRoomNotOpen = NewError(CodeRoomNotOpen, "room is not open")
)

// ErrCodeTaken is returned by room stores when a generated code collides. It
// never crosses the service boundary.
var ErrCodeTaken = errors.New("room code already in use")
