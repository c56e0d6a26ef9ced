package dev

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
)

// AssetServer serves the bundled client assets on the fixed asset port,
// plus a health probe and the session metrics. Asset responses are
// marked uncacheable so browsers always fetch the latest bundle.
type AssetServer struct {
	server *http.Server
}

// NewAssetServer creates the asset server for the configured project.
func NewAssetServer(cfg *config.Config, gatherer prometheus.Gatherer) *AssetServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	files := http.FileServer(http.Dir(cfg.PublicOutputPath()))
	r.Handle(cfg.Client.PublicPrefix+"/*", http.StripPrefix(cfg.Client.PublicPrefix, noStore(files)))

	return &AssetServer{
		server: &http.Server{
			Addr:    cfg.AssetAddress(),
			Handler: r,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (a *AssetServer) Handler() http.Handler {
	return a.server.Handler
}

// Start begins serving in the background. A listen failure is reported
// but does not end the session; asset requests just start failing.
func (a *AssetServer) Start() {
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "[%s] \033[31masset server: %v\033[0m\n",
				time.Now().Format("15:04:05"), err)
		}
	}()
}

// Stop closes the listener, dropping open connections.
func (a *AssetServer) Stop() {
	a.server.Close()
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
