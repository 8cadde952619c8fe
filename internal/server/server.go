// Пакет server — HTTP-сервер Attendance Server с graceful shutdown.
// Без TLS — HTTP внутри школьной сети, TLS termination на reverse proxy.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/attendtrack/attendance-server/internal/api/handlers"
	"github.com/bigkaa/attendtrack/attendance-server/internal/api/middleware"
	"github.com/bigkaa/attendtrack/attendance-server/internal/config"
)

// Server — HTTP-сервер Attendance Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h),
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

// NewRouter собирает chi-маршрутизатор со всеми endpoints.
// Прошивка устройств обращается к путям с завершающим слэшем,
// поэтому слэш отбрасывается до маршрутизации.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.StripSlashes)

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api", func(r chi.Router) {
		// Устройства
		r.Post("/attendance/mark", h.MarkAttendance)
		r.Get("/device/commands", h.PollCommands)
		r.Post("/device/command/update", h.UpdateCommand)
		r.Post("/device/command-update", h.UpdateCommand)
		r.Post("/device/status", h.DeviceStatus)

		// UI
		r.Post("/student/enroll", h.EnrollStudent)
		r.Post("/student/delete-fingerprint", h.DeleteFingerprint)
		r.Get("/command/status/{command_id}", h.CommandStatus)
		r.Get("/command/{command_id}", h.CommandStatus)
		r.Get("/devices", h.ListDevices)
		r.Put("/devices/{device_id}/active", h.SetDeviceActive)
		r.Get("/device/commands/history", h.CommandHistory)

		// Студенты и посещаемость
		r.Get("/students", h.ListStudents)
		r.Post("/students", h.CreateStudent)
		r.Delete("/students/{roll_no}", h.DeleteStudent)
		r.Post("/attendance/finalize", h.FinalizeAttendance)
		r.Get("/attendance/absent", h.AbsentList)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
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

	// Ожидание сигнала завершения
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

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
