// Package respond writes the JSON envelopes and image bodies of the HTTP API.
package respond

import (
	"io"
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// renditionCacheControl lets clients keep a finished rendition; its key
// never points at different content once the record is DONE.
const renditionCacheControl = "public, max-age=86400"

// Success wraps every successful JSON payload.
type Success struct {
	Result any `json:"result"`
}

// Error is the body of every failed request.
type Error struct {
	Message string `json:"message"`
}

// JPEG streams a rendition from r. The length is unknown up front, so the
// body is sent chunked.
func JPEG(c *ginext.Context, r io.Reader) {
	c.DataFromReader(http.StatusOK, -1, "image/jpeg", r, map[string]string{
		"Cache-Control": renditionCacheControl,
	})
}

// JSON writes data as is.
func JSON(c *ginext.Context, status int, data any) {
	c.JSON(status, data)
}

// OK writes a 200 with result in the Success envelope.
func OK(c *ginext.Context, result any) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Created writes a 201 with result in the Success envelope.
func Created(c *ginext.Context, result any) {
	JSON(c, http.StatusCreated, Success{Result: result})
}

// Fail writes message with status and aborts the remaining handlers.
func Fail(c *ginext.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Error{Message: message})
}
