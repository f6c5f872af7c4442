package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fxreversal/internal/apperr"
)

// envelope is the uniform response shape every handler returns (§6.1),
// generalizing the teacher's successResponse/errorResponse pair into a
// single typed-error-aware helper.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Timestamp: time.Now()})
}

func respondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data, Timestamp: time.Now()})
}

// mapError renders any error into the envelope, using CoreError's
// carried HTTP status when the error implements it and falling back to
// 500 for anything unexpected.
func mapError(c *gin.Context, err error) {
	if coreErr, ok := err.(apperr.CoreError); ok {
		c.JSON(coreErr.HTTPStatus(), envelope{Success: false, Error: err.Error(), Timestamp: time.Now()})
		return
	}
	c.JSON(http.StatusInternalServerError, envelope{Success: false, Error: err.Error(), Timestamp: time.Now()})
}
