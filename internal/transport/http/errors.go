// Package http exposes the exam room services over websocket and REST.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"exam-room-service/internal/domain"
)

// UserHeader carries the caller's user id, set by the authenticating proxy.
const UserHeader = "X-User-ID"

type errorBody struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// toErrorBody exposes the code and message of domain errors only. Anything
// else is logged and reported as a generic server error.
func toErrorBody(logger *log.Logger, op string, err error) errorBody {
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Code != domain.CodeServerError {
		return errorBody{Code: derr.Code, Message: derr.Message}
	}
	logger.Printf("%s: %v", op, err)
	return errorBody{Code: domain.CodeServerError, Message: "internal server error"}
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation, domain.CodeUnsupportedQuestionType:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeInvalidState, domain.CodeInvalidQuestion, domain.CodeRoomNotOpen:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
