// Пакет server — HTTP-сервер DocVault с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/docvault/internal/api/handlers"
	"github.com/bigkaa/docvault/internal/api/middleware"
	"github.com/bigkaa/docvault/internal/config"
)

// Server — HTTP-сервер DocVault.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// middlewares — дополнительные middleware (metrics, logging, JWT),
// добавляются в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, middlewares ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()

	for _, mw := range middlewares {
		router.Use(mw)
	}

	registerRoutes(router, h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// registerRoutes регистрирует все маршруты DocVault.
// Публичный контур (health, metrics, verify, registry) исключается из JWT
// через JWTAuthWithExclusions в main.
func registerRoutes(router chi.Router, h *handlers.APIHandler) {
	// Служебные endpoints
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Публичный контур
		r.Get("/verify/{fingerprint}", h.VerifyDocument)
		r.Post("/verify/file", h.VerifyFile)
		r.Get("/registry/search", h.SearchRegistry)
		r.Get("/registry/documents/{fingerprint}", h.GetRegistryDocument)
		r.Get("/registry/stats", h.RegistryStats)

		// Личный кабинет владельца
		r.Post("/documents", h.UploadDocument)
		r.Get("/documents", h.ListDocuments)
		r.Get("/documents/{fingerprint}", h.GetDocument)
		r.Get("/documents/{fingerprint}/download", h.DownloadDocument)

		// Правительственный контур
		r.Route("/government", func(g chi.Router) {
			g.With(middleware.RequireRole(middleware.RoleOfficer)).
				Get("/pending", h.ListPendingDocuments)
			g.With(middleware.RequireRole(middleware.RoleOfficer, middleware.RoleAdmin)).
				Post("/documents/{fingerprint}/approve", h.ApproveDocument)
			g.With(middleware.RequireRole(middleware.RoleOfficer, middleware.RoleAdmin)).
				Post("/documents/{fingerprint}/assign", h.AssignDocument)
			g.With(middleware.RequireRole(middleware.RoleOfficer, middleware.RoleAdmin)).
				Get("/dashboard", h.GovernmentDashboard)
			g.With(middleware.RequireRole(middleware.RoleAuditor, middleware.RoleAdmin)).
				Get("/audit", h.AuditLog)
			g.With(middleware.RequireRole(middleware.RoleAdmin)).
				Post("/documents/{fingerprint}/repair", h.RepairDocument)
		})
	})
}

// JWTAuthWithExclusions оборачивает middleware, пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без middleware.
func JWTAuthWithExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			mw(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
