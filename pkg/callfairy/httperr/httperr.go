// Package httperr turns access-layer errors into JSON responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorCase maps a sentinel error to an HTTP status and message.
// An empty Message echoes the error text.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// DefaultCases covers the access error taxonomy. Denials stay distinct from
// missing resources.
var DefaultCases = []ErrorCase{
	{Err: access.ErrNotFound, Status: http.StatusNotFound},
	{Err: access.ErrUnauthorized, Status: http.StatusForbidden},
	{Err: access.ErrAlreadyAssigned, Status: http.StatusConflict},
	{Err: access.ErrInvalidState, Status: http.StatusBadRequest},
}

// Respond writes err using DefaultCases, falling back to a logged 500.
func Respond(c *gin.Context, log *zap.Logger, err error) {
	RespondWith(c, log, err, DefaultCases, "Internal server error")
}

// RespondWith writes err using cases, or fallback as a 500.
func RespondWith(c *gin.Context, log *zap.Logger, err error, cases []ErrorCase, fallback string) {
	for _, cs := range cases {
		if errors.Is(err, cs.Err) {
			msg := cs.Message
			if msg == "" {
				msg = err.Error()
			}
			c.AbortWithStatusJSON(cs.Status, gin.H{"error": msg})
			return
		}
	}

	if log != nil {
		logging.FromContext(c.Request.Context(), log).Error("unhandled error",
			zap.String("route", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
