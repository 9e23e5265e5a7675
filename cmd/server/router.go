package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/chi-demo/app"
	demomiddleware "github.com/tendant/chi-demo/middleware"

	"github.com/tendant/simple-entity/internal/catalog"
	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/api"
	"github.com/tendant/simple-entity/pkg/entity/config"
)

func newRouter(cfg *config.ServerConfig, m *entity.Mapper, logger *slog.Logger) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(api.MaxBodySize(64 << 20))
	r.Use(middleware.Timeout(60 * time.Second))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	var guards []func(http.Handler) http.Handler
	if cfg.APIKeySHA256 != "" {
		apiKey, err := demomiddleware.ApiKeyMiddleware(demomiddleware.ApiKeyConfig{
			APIKeys: map[string]string{"default": cfg.APIKeySHA256},
		})
		if err != nil {
			return nil, fmt.Errorf("api key middleware: %w", err)
		}
		guards = append(guards, apiKey)
	}
	if cfg.JWTSecret != "" {
		guards = append(guards, api.RequireJWT(api.NewJWTAuth(cfg.JWTSecret)))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(guards...)
		catalog.Routes(r, m, logger)
	})
	return r, nil
}
