package api

import (
	"net/http"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/flowgrid/flowplane/internal/store"
	"github.com/gin-gonic/gin"
)

func (s *Server) getSettings(c *gin.Context) {
	st := s.settings.Current()
	c.JSON(http.StatusOK, st)
}

// updateSettings applies the change and, when restart_workers is set,
// cascades a restart across every active stream, reporting any per-stream
// failures without rolling back the ones that succeeded (§9).
func (s *Server) updateSettings(c *gin.Context) {
	var upd store.SettingsUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		respondErr(c, apperr.Validation("", err.Error()))
		return
	}

	st, outcomes, err := s.settings.UpdateSettings(c.Request.Context(), upd)
	if err != nil {
		respondErr(c, err)
		return
	}

	if len(outcomes) == 0 {
		c.JSON(http.StatusOK, st)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":       st,
		"restart_errors": outcomes,
	})
}
