package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker(t *testing.T) {
	t.Run("healthy when every check passes", func(t *testing.T) {
		c := NewChecker(0)
		c.Register("postgres", func(context.Context) error { return nil })

		rr := httptest.NewRecorder()
		c.HTTPHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("unavailable when any check fails", func(t *testing.T) {
		c := NewChecker(0)
		c.Register("postgres", func(context.Context) error { return nil })
		c.Register("redis", func(context.Context) error { return errors.New("connection refused") })

		rr := httptest.NewRecorder()
		c.HTTPHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "unavailable", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})
}
