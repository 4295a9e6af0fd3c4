// Package api wires the HTTP surface: run-management endpoints and the
// swagger UI.
package api

import (
	"net/http"

	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "circularity-pipeline/docs"
	"circularity-pipeline/internal/api/handler"
	"circularity-pipeline/internal/catalog"
	"circularity-pipeline/internal/pipeline"
	"circularity-pipeline/internal/store"
	"circularity-pipeline/pkg/router"
)

// NewRouter builds the application router with all routes registered.
func NewRouter(db *store.DB, cat *catalog.Catalog, opts pipeline.Options, log zerolog.Logger) *router.Router {
	h := handler.New(db, cat, opts, log)

	r := router.New(log)

	// Specific routes before wildcard ones; first registration wins.
	r.POST("/api/v1/runs", h.CreateRun)
	r.GET("/api/v1/runs", h.ListRuns)
	r.GET("/api/v1/runs/*/warnings", h.GetRunWarnings)
	r.GET("/api/v1/runs/*", h.GetRun)

	r.GET("/swagger/*", func(w http.ResponseWriter, req *http.Request) {
		httpSwagger.WrapHandler(w, req)
	})

	r.GET("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
