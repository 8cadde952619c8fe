// handler.go — основной обработчик API Attendance Server.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/attendtrack/attendance-server/internal/api/errors"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/service"
)

// maxBodyBytes — предельный размер тела запроса.
const maxBodyBytes = 1 << 20

// DeviceRegistry — операции реестра устройств, нужные API.
type DeviceRegistry interface {
	Touch(ctx context.Context, deviceID string, status, mode *string) (*model.Device, error)
	List(ctx context.Context) ([]service.DeviceView, error)
	SetActive(ctx context.Context, deviceID string, active bool) (*service.DeviceView, error)
}

// CommandQueue — операции очереди команд, нужные API.
type CommandQueue interface {
	PollNext(ctx context.Context, deviceID string) (*service.PolledCommand, error)
	ReportOutcome(ctx context.Context, commandID int64, outcome command.Outcome, message string) (*model.Command, error)
	Get(ctx context.Context, commandID int64) (*model.Command, error)
	History(ctx context.Context, deviceID string, limit int) ([]*model.Command, error)
}

// Enrollment — постановка enroll/delete команд.
type Enrollment interface {
	Enroll(ctx context.Context, rollNo int, deviceID string) (*model.Command, error)
	DeleteFingerprint(ctx context.Context, rollNo int, deviceID string) (*model.Command, error)
}

// Attendance — регистрация и отчёты посещаемости.
type Attendance interface {
	Mark(ctx context.Context, fingerprintID int, deviceID string) (*model.AttendanceMark, error)
	Finalize(ctx context.Context) (time.Time, int64, error)
	Absent(ctx context.Context, date time.Time, className string) ([]service.AbsentNotice, error)
	Today() time.Time
}

// Students — учёт студентов.
type Students interface {
	List(ctx context.Context) ([]*model.Student, error)
	Create(ctx context.Context, s *model.Student, p *model.ParentDetail) error
	Delete(ctx context.Context, rollNo int) error
}

// APIHandler — основной обработчик API Attendance Server.
type APIHandler struct {
	health     *HealthHandler
	devices    DeviceRegistry
	commands   CommandQueue
	enrollment Enrollment
	attendance Attendance
	students   Students
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	devices DeviceRegistry,
	commands CommandQueue,
	enrollment Enrollment,
	attendance Attendance,
	students Students,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		devices:    devices,
		commands:   commands,
		enrollment: enrollment,
		attendance: attendance,
		students:   students,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// messageResponse — ответ с текстовым сообщением.
type messageResponse struct {
	Message string `json:"message"`
}

// decodeBody читает JSON тела запроса и валидирует его.
// При ошибке пишет ответ 400 и возвращает false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, validationMessage(err))
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// op — описание операции для лога и ответа 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrDeviceOffline):
		apierrors.DeviceOffline(w, err.Error())
	case errors.Is(err, service.ErrAlreadyEnrolled),
		errors.Is(err, service.ErrNotEnrolled),
		errors.Is(err, service.ErrSlotsExhausted):
		apierrors.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error(op, slog.String("error", err.Error()))
		apierrors.InternalError(w, op)
	}
}

// formatTime форматирует время в RFC 3339 UTC; nil → nil.
func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
