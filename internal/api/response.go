package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Encoder is anything a handler can send back.
type Encoder interface {
	Encode() ([]byte, string, error)
}

type httpStatus interface {
	HTTPStatus() int
}

// JSONResponse is a JSON body with an optional status code.
type JSONResponse[T any] struct {
	Data   T
	Status int
}

func NewJSONResponse[T any](data T) *JSONResponse[T] {
	return &JSONResponse[T]{Data: data}
}

func NewJSONResponseWithStatus[T any](data T, status int) *JSONResponse[T] {
	return &JSONResponse[T]{Data: data, Status: status}
}

func (j *JSONResponse[T]) Encode() ([]byte, string, error) {
	data, err := json.Marshal(j.Data)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json; charset=utf-8", nil
}

func (j *JSONResponse[T]) HTTPStatus() int {
	if j.Status == 0 {
		return http.StatusOK
	}
	return j.Status
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Status     int      `json:"-"`
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func NewError(status int, msg string) *ErrorResponse {
	return &ErrorResponse{Status: status, Error: msg}
}

func (e *ErrorResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(e)
	return data, "application/json; charset=utf-8", err
}

func (e *ErrorResponse) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// noContent replies 204 with no body.
type noContent struct{}

func (noContent) Encode() ([]byte, string, error) {
	return nil, "", nil
}

func (noContent) HTTPStatus() int {
	return http.StatusNoContent
}

// respond writes resp to w.
func respond(ctx context.Context, w http.ResponseWriter, resp Encoder) error {
	if err := ctx.Err(); err != nil && errors.Is(err, context.Canceled) {
		return errors.New("client disconnected, do not send response")
	}

	statusCode := http.StatusOK
	if v, ok := resp.(httpStatus); ok {
		statusCode = v.HTTPStatus()
	}
	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	data, contentType, err := resp.Encode()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return fmt.Errorf("respond: encode: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("respond: write: %w", err)
	}
	return nil
}
