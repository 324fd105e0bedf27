package httperr

import (
	"github.com/gin-gonic/gin"
)

// Response is the error body every handler writes. Detail carries
// machine-readable context for the caller, such as the time slot that
// lacked capacity.
type Response struct {
	Status int    `json:"-"`
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

// AbortWithError records the original error on the gin context (for the
// error middleware and request logging), writes the response, and stops
// the handler chain.
func AbortWithError(c *gin.Context, status int, err error, msg string, detail any) {
	if err == nil {
		panic("AbortWithError: err cannot be nil")
	}

	resp := Response{Status: status, Error: msg, Detail: detail}

	_ = c.Error(gin.Error{
		Err:  err,
		Type: gin.ErrorTypePublic,
		Meta: resp,
	})
	c.AbortWithStatusJSON(status, resp)
}
