package api

import (
	"net/http"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/gin-gonic/gin"
)

// respondErr maps an apperr.Error (or an opaque error) onto the error
// envelope and status code from §6.1/§7. Validation -> 400, not-found ->
// 404, conflict -> 409, transient/permanent runtime failures -> 503.
func respondErr(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	switch ae.Kind {
	case apperr.KindValidation:
		if ae.Field != "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": gin.H{"field": ae.Field, "message": ae.Message}})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": ae.Message})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"detail": ae.Message})
	case apperr.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"detail": ae.Message})
	case apperr.KindTransient, apperr.KindPermanent:
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": ae.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": ae.Message})
	}
}
