package router

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
)

// HttpErrorHandler renders errors that escaped the handlers, such as
// unknown routes or oversized bodies, in the JSON envelope.
func HttpErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}
	return respond(c, code, message, nil)
}
