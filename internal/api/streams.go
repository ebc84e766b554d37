package api

import (
	"net/http"
	"strconv"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/flowgrid/flowplane/internal/store"
	"github.com/gin-gonic/gin"
)

func (s *Server) listStreams(c *gin.Context) {
	list, err := s.streams.ListStreams(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createStream(c *gin.Context) {
	var decl store.StreamDecl
	if err := c.ShouldBindJSON(&decl); err != nil {
		respondErr(c, apperr.Validation("", err.Error()))
		return
	}

	st, err := s.streams.CreateStream(c.Request.Context(), decl)
	if err != nil {
		respondErr(c, err)
		return
	}

	if st.IsActive {
		if err := s.recon.Activate(c.Request.Context(), st.ID); err != nil {
			respondErr(c, err)
			return
		}
		st, err = s.streams.GetStream(c.Request.Context(), st.ID)
		if err != nil {
			respondErr(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) getStream(c *gin.Context) {
	st, err := s.streams.GetStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// updateStream replaces the declaration and, based on the is_active
// transition, either activates, deactivates, or applies an in-place
// config change to the running worker (§6.1's PUT /streams/{id}).
func (s *Server) updateStream(c *gin.Context) {
	id := c.Param("id")
	var decl store.StreamDecl
	if err := c.ShouldBindJSON(&decl); err != nil {
		respondErr(c, apperr.Validation("", err.Error()))
		return
	}

	ctx := c.Request.Context()
	before, after, err := s.streams.UpdateStream(ctx, id, decl)
	if err != nil {
		respondErr(c, err)
		return
	}

	switch {
	case after.IsActive && !before.IsActive:
		err = s.recon.Activate(ctx, id)
	case !after.IsActive && before.IsActive:
		err = s.recon.Deactivate(ctx, id)
	case after.IsActive && before.IsActive:
		err = s.recon.ApplyConfigChange(ctx, id)
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	after, err = s.streams.GetStream(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, after)
}

func (s *Server) deleteStream(c *gin.Context) {
	id := c.Param("id")
	if err := s.streams.DeleteStream(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	s.recon.Forget(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) activateStream(c *gin.Context) {
	id := c.Param("id")
	if err := s.recon.Activate(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	st, err := s.streams.GetStream(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) deactivateStream(c *gin.Context) {
	id := c.Param("id")
	if err := s.recon.Deactivate(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	st, err := s.streams.GetStream(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) workerLogs(c *gin.Context) {
	id := c.Param("id")
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "100"))

	st, err := s.streams.GetStream(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if st.WorkerHandle == "" {
		c.JSON(http.StatusOK, gin.H{
			"worker_status":         st.ConnectionStatus,
			"worker_container_name": "",
			"logs":                  []string{},
			"error":                 "no worker attached",
		})
		return
	}

	logs, err := s.driver.Tail(c.Request.Context(), st.WorkerHandle, tail)
	resp := gin.H{
		"worker_status":         st.ConnectionStatus,
		"worker_container_name": st.WorkerHandle,
		"logs":                  logs,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
