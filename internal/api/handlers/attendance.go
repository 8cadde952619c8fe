// attendance.go — сканирование отпечатка и отчёты посещаемости.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/bigkaa/attendtrack/attendance-server/internal/api/errors"
)

// markRequest — сканирование отпечатка на устройстве.
type markRequest struct {
	FingerprintID int    `json:"fingerprint_id" validate:"required,min=1,max=127"`
	DeviceID      string `json:"device_id" validate:"required,notblank,max=50"`
}

type markResponse struct {
	Message       string `json:"message"`
	RollNo        int    `json:"roll_no"`
	StudentName   string `json:"student_name"`
	Date          string `json:"date"`
	Timestamp     string `json:"timestamp"`
	AlreadyMarked bool   `json:"already_marked"`
}

// MarkAttendance — POST /api/attendance/mark.
// 404 — ни один студент не закреплён за слотом.
func (h *APIHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.attendance.Mark(r.Context(), req.FingerprintID, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка регистрации посещаемости")
		return
	}

	msg := "Attendance marked"
	if m.AlreadyMarked {
		msg = "Attendance already marked"
	}
	writeJSON(w, http.StatusOK, markResponse{
		Message:       msg,
		RollNo:        m.RollNo,
		StudentName:   m.StudentName,
		Date:          m.Date.Format(time.DateOnly),
		Timestamp:     m.Timestamp.UTC().Format(time.RFC3339),
		AlreadyMarked: m.AlreadyMarked,
	})
}

type finalizeResponse struct {
	Message string `json:"message"`
	Date    string `json:"date"`
	Absent  int64  `json:"absent"`
}

// FinalizeAttendance — POST /api/attendance/finalize.
// Отмечает отсутствующими всех, кто не сканировался сегодня.
func (h *APIHandler) FinalizeAttendance(w http.ResponseWriter, r *http.Request) {
	date, n, err := h.attendance.Finalize(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка закрытия дня посещаемости")
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{
		Message: "Attendance finalized",
		Date:    date.Format(time.DateOnly),
		Absent:  n,
	})
}

type absentResponse struct {
	RollNo      int    `json:"roll_no"`
	StudentName string `json:"student_name"`
	Contact     string `json:"contact"`
	Message     string `json:"message"`
}

// AbsentList — GET /api/attendance/absent?date=YYYY-MM-DD&class=...
// Без date — текущий день.
func (h *APIHandler) AbsentList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date := h.attendance.Today()
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			apierrors.ValidationError(w, "date должна быть в формате YYYY-MM-DD")
			return
		}
		date = d
	}

	absent, err := h.attendance.Absent(r.Context(), date, q.Get("class"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка отсутствующих")
		return
	}

	items := make([]absentResponse, 0, len(absent))
	for _, a := range absent {
		items = append(items, absentResponse{
			RollNo:      a.RollNo,
			StudentName: a.StudentName,
			Contact:     a.Contact,
			Message:     a.Message,
		})
	}
	writeJSON(w, http.StatusOK, items)
}
