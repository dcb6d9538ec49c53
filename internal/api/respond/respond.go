package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-pipeline/internal/adapter"
	"github.com/aliskhannn/image-pipeline/internal/model"
)

// Success represents a standard structure for successful responses.
type Success struct {
	Result interface{} `json:"result"`
}

// Error represents a standard structure for error responses.
type Error struct {
	Message string `json:"message"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response, wrapping the given result in a Success struct.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Created sends a 201 Created JSON response, wrapping the given result in a Success struct.
func Created(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusCreated, Success{Result: result})
}

// Fail sends an error JSON response with the specified HTTP status code.
// The error message is wrapped in an Error struct.
func Fail(c *ginext.Context, status int, err error) {
	JSON(c, status, Error{Message: err.Error()})
}

// Envelope writes the flat result envelope with a status derived from the
// outcome.
func Envelope(c *ginext.Context, res adapter.Result) {
	JSON(c, StatusFor(res), res.Envelope.Map())
}

// StatusFor maps an invocation outcome to an HTTP status: 200 on success,
// 500 for escalated failures, 400 for request and image problems, 502 when
// storage failed.
func StatusFor(res adapter.Result) int {
	if res.Err == nil {
		return http.StatusOK
	}
	if res.Escalate() {
		return http.StatusInternalServerError
	}

	switch model.KindOf(res.Err) {
	case "validation", "decode", "transform":
		return http.StatusBadRequest
	case "storage":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
