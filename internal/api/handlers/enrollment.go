// enrollment.go — endpoints UI для записи и удаления отпечатков
// и наблюдения за статусом команды.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/attendtrack/attendance-server/internal/api/errors"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// fingerprintRequest — тело enroll и delete-fingerprint.
type fingerprintRequest struct {
	RollNo   int    `json:"roll_no" validate:"required,gt=0"`
	DeviceID string `json:"device_id" validate:"required,notblank,max=50"`
}

type commandQueuedResponse struct {
	Message       string `json:"message"`
	CommandID     int64  `json:"command_id"`
	FingerprintID int    `json:"fingerprint_id"`
	Status        string `json:"status"`
}

func queued(message string, c *model.Command) commandQueuedResponse {
	return commandQueuedResponse{
		Message:       message,
		CommandID:     c.ID,
		FingerprintID: c.FingerprintID,
		Status:        string(c.Status),
	}
}

// EnrollStudent — POST /api/student/enroll.
// 503 — устройство не на связи, 400 — отпечаток уже записан или слоты исчерпаны.
func (h *APIHandler) EnrollStudent(w http.ResponseWriter, r *http.Request) {
	var req fingerprintRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.enrollment.Enroll(r.Context(), req.RollNo, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка постановки команды записи отпечатка")
		return
	}
	writeJSON(w, http.StatusOK, queued("Enrollment command sent", c))
}

// DeleteFingerprint — POST /api/student/delete-fingerprint.
// 503 — устройство не на связи, 400 — отпечаток не записан.
func (h *APIHandler) DeleteFingerprint(w http.ResponseWriter, r *http.Request) {
	var req fingerprintRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.enrollment.DeleteFingerprint(r.Context(), req.RollNo, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка постановки команды удаления отпечатка")
		return
	}
	writeJSON(w, http.StatusOK, queued("Delete command sent", c))
}

// CommandStatus — GET /api/command/status/{command_id}.
func (h *APIHandler) CommandStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "command_id"), 10, 64)
	if err != nil || id < 1 {
		apierrors.ValidationError(w, "command_id должен быть положительным целым числом")
		return
	}

	c, err := h.commands.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения статуса команды")
		return
	}
	writeJSON(w, http.StatusOK, mapCommand(c))
}
