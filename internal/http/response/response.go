package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatutor/mariner-backend/internal/platform/apierr"
)

type APIError struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type Envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Status: "success", Data: data})
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// RespondAPIError maps an error to its HTTP shape. Internal causes stay in
// logs; the body carries only the opaque code and message.
func RespondAPIError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		body := ErrorEnvelope{Error: APIError{Message: ae.Err.Error(), Code: ae.Code, Details: ae.Details}}
		if ae.Status >= http.StatusInternalServerError {
			body.Error.Message = "internal error"
		}
		c.JSON(ae.Status, body)
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error: APIError{Message: "internal error", Code: "internal_error"},
	})
}
