package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/logger"
	"github.com/shrek82/jconn/pool"
)

func testHandler() *pool.Handler {
	s := config.Defaults()
	s.Name = ":memory:"
	broken := config.Defaults()
	broken.Engine = "oracle"
	broken.Name = "orcl"
	cfg := &config.Config{Databases: map[string]config.Settings{"default": s, "legacy": broken}}
	return pool.New(cfg, core.WithLogger(logger.Nop()))
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Health", func(t *testing.T) {
		router := newRouter(testHandler(), []string{"default"})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "abc")
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
		if rec.Header().Get(RequestIDHeader) != "abc" {
			t.Errorf("request id not echoed")
		}
	})

	t.Run("Databases", func(t *testing.T) {
		h := testHandler()
		router := newRouter(h, []string{"default"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/databases", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Databases []Result `json:"databases"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Databases) != 1 || body.Databases[0].Status != "ok" || body.Databases[0].Vendor != "sqlite" {
			t.Errorf("unexpected body: %+v", body)
		}
		if len(h.Stats()) != 0 {
			t.Errorf("request wrappers must be dropped after the request")
		}
	})

	t.Run("UnknownEngine", func(t *testing.T) {
		router := newRouter(testHandler(), []string{"default", "legacy"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/databases", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d", rec.Code)
		}
	})
}
