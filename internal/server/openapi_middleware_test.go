package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func validatedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := newOpenAPIValidator()
	if err != nil {
		t.Fatalf("load validator: %v", err)
	}
	r := gin.New()
	r.Use(v.Middleware())
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/v1/logs", ok)
	r.GET("/api/v1/unknown", ok)
	r.GET("/version", ok)
	return r
}

func TestOpenAPIValidator(t *testing.T) {
	r := validatedRouter(t)
	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/logs", http.StatusOK},
		{"/api/v1/logs?limit=20", http.StatusOK},
		{"/api/v1/logs?limit=0", http.StatusBadRequest},
		{"/api/v1/logs?limit=abc", http.StatusBadRequest},
		{"/api/v1/unknown", http.StatusBadRequest},
		{"/version", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("GET %s: status %d, want %d (%s)", tc.path, w.Code, tc.want, w.Body.String())
		}
	}
}
