// devices.go — endpoints, которые вызывают сами сканеры:
// poll команд, отчёт о выполнении, heartbeat; а также список устройств
// и история команд для администратора.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/attendtrack/attendance-server/internal/api/errors"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/service"
)

// Границы limit для истории команд.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// pollResponse — ответ на poll. Пустая очередь — {"command": null}.
type pollResponse struct {
	Command       *string `json:"command"`
	FingerprintID int     `json:"fingerprint_id,omitempty"`
	StudentName   string  `json:"student_name,omitempty"`
	CommandID     int64   `json:"command_id,omitempty"`
}

// PollCommands — GET /api/device/commands?device_id=...
// Отмечает контакт устройства и выдаёт следующую команду.
func (h *APIHandler) PollCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		apierrors.ValidationError(w, "device_id обязателен")
		return
	}

	c, err := h.commands.PollNext(r.Context(), deviceID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка выдачи команды устройству")
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, pollResponse{})
		return
	}

	kind := string(c.Kind)
	writeJSON(w, http.StatusOK, pollResponse{
		Command:       &kind,
		FingerprintID: c.FingerprintID,
		StudentName:   c.StudentName,
		CommandID:     c.ID,
	})
}

// commandUpdateRequest — отчёт устройства о выполнении команды.
type commandUpdateRequest struct {
	CommandID int64  `json:"command_id" validate:"required,gt=0"`
	Status    string `json:"status" validate:"required,oneof=success error in_progress"`
	Message   string `json:"message" validate:"max=500"`
}

type commandUpdateResponse struct {
	Message   string `json:"message"`
	CommandID int64  `json:"command_id"`
	Status    string `json:"status"`
}

// UpdateCommand — POST /api/device/command/update.
func (h *APIHandler) UpdateCommand(w http.ResponseWriter, r *http.Request) {
	var req commandUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := command.ParseOutcome(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	c, err := h.commands.ReportOutcome(r.Context(), req.CommandID, outcome, req.Message)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка применения отчёта устройства")
		return
	}

	writeJSON(w, http.StatusOK, commandUpdateResponse{
		Message:   "Command updated",
		CommandID: c.ID,
		Status:    string(c.Status),
	})
}

// deviceStatusRequest — heartbeat устройства.
type deviceStatusRequest struct {
	DeviceID string  `json:"device_id" validate:"required,notblank,max=50"`
	Status   *string `json:"status" validate:"omitempty,oneof=online offline error"`
	Mode     *string `json:"mode" validate:"omitempty,oneof=scanning enrolling deleting"`
}

type deviceStatusResponse struct {
	Message  string `json:"message"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	LastSeen string `json:"last_seen"`
}

// DeviceStatus — POST /api/device/status.
func (h *APIHandler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req deviceStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := h.devices.Touch(r.Context(), req.DeviceID, req.Status, req.Mode)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления статуса устройства")
		return
	}

	writeJSON(w, http.StatusOK, deviceStatusResponse{
		Message:  "Status updated",
		DeviceID: d.DeviceID,
		Status:   d.Status,
		Mode:     d.Mode,
		LastSeen: d.LastSeen.UTC().Format(time.RFC3339),
	})
}

// deviceResponse — устройство в списке.
type deviceResponse struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	LastSeen string `json:"last_seen"`
	IsActive bool   `json:"is_active"`
	IsOnline bool   `json:"is_online"`
}

// ListDevices — GET /api/devices.
func (h *APIHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка устройств")
		return
	}

	items := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		items = append(items, mapDevice(d))
	}
	writeJSON(w, http.StatusOK, items)
}

func mapDevice(d service.DeviceView) deviceResponse {
	return deviceResponse{
		DeviceID: d.DeviceID,
		Name:     d.Name,
		Status:   d.Status,
		Mode:     d.Mode,
		LastSeen: d.LastSeen.UTC().Format(time.RFC3339),
		IsActive: d.IsActive,
		IsOnline: d.Online,
	}
}

// deviceActiveRequest — включение или отключение устройства.
type deviceActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// SetDeviceActive — PUT /api/devices/{device_id}/active.
func (h *APIHandler) SetDeviceActive(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req deviceActiveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := h.devices.SetActive(r.Context(), deviceID, *req.IsActive)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка изменения активности устройства")
		return
	}
	writeJSON(w, http.StatusOK, mapDevice(*d))
}

type commandHistoryResponse struct {
	DeviceID string            `json:"device_id"`
	Commands []commandResponse `json:"commands"`
}

// CommandHistory — GET /api/device/commands/history?device_id=...&limit=...
func (h *APIHandler) CommandHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		apierrors.ValidationError(w, "device_id обязателен")
		return
	}

	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, "limit должен быть положительным целым числом")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	commands, err := h.commands.History(r.Context(), deviceID, limit)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения истории команд")
		return
	}

	items := make([]commandResponse, 0, len(commands))
	for _, c := range commands {
		items = append(items, mapCommand(c))
	}
	writeJSON(w, http.StatusOK, commandHistoryResponse{DeviceID: deviceID, Commands: items})
}

// commandResponse — команда для UI.
type commandResponse struct {
	CommandID     int64   `json:"command_id"`
	DeviceID      string  `json:"device_id"`
	RollNo        int     `json:"roll_no"`
	Command       string  `json:"command"`
	FingerprintID int     `json:"fingerprint_id"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	CompletedAt   *string `json:"completed_at"`
}

func mapCommand(c *model.Command) commandResponse {
	return commandResponse{
		CommandID:     c.ID,
		DeviceID:      c.DeviceID,
		RollNo:        c.RollNo,
		Command:       string(c.Kind),
		FingerprintID: c.FingerprintID,
		Status:        string(c.Status),
		Message:       c.Message,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.UTC().Format(time.RFC3339),
		CompletedAt:   formatTime(c.CompletedAt),
	}
}
