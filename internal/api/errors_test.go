package api

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func recordRespondErr(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondErr(c, err)
	return w
}

func TestRespondErrStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("source", "required"), 400},
		{"not_found", apperr.NotFound("stream not found"), 404},
		{"conflict", apperr.Conflict("worker attached"), 409},
		{"transient", apperr.Transient("dial failed", errors.New("timeout")), 503},
		{"permanent", apperr.Permanent("image pull failed", errors.New("no such image")), 503},
		{"opaque", errors.New("boom"), 500},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := recordRespondErr(c.err)
			assert.Equal(t, c.want, w.Code)
		})
	}
}

func TestRespondErrValidationIncludesField(t *testing.T) {
	w := recordRespondErr(apperr.Validation("grid_size_px", "must be within [4, 128]"))
	assert.Contains(t, w.Body.String(), "grid_size_px")
	assert.Contains(t, w.Body.String(), "must be within")
}
