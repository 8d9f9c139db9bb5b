package utils

import "net/http"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewErrorResponse(status int, message string) ErrorResponse {
	if message == "" {
		message = http.StatusText(status)
	}
	return ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
}

var InternalErrorBody = []byte(`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)

func SetNoCacheHeaders(header http.Header) {
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
}
