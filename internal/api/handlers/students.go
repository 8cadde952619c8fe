// students.go — обработчики /api/students.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/attendtrack/attendance-server/internal/api/errors"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// studentResponse — студент в списке.
type studentResponse struct {
	RollNo              int     `json:"roll_no"`
	StudentName         string  `json:"student_name"`
	ClassName           string  `json:"class_name"`
	IdentifierCode      *string `json:"identifier_code"`
	FingerprintID       *int    `json:"fingerprint_id"`
	FingerprintEnrolled bool    `json:"fingerprint_enrolled"`
}

// ListStudents — GET /api/students.
func (h *APIHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка студентов")
		return
	}

	items := make([]studentResponse, 0, len(students))
	for _, s := range students {
		items = append(items, studentResponse{
			RollNo:              s.RollNo,
			StudentName:         s.StudentName,
			ClassName:           s.ClassName,
			IdentifierCode:      s.IdentifierCode,
			FingerprintID:       s.FingerprintID,
			FingerprintEnrolled: s.FingerprintEnrolled,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// studentCreateRequest — студент вместе с контактом родителя.
type studentCreateRequest struct {
	RollNo         int     `json:"roll_no" validate:"required,gt=0"`
	StudentName    string  `json:"student_name" validate:"required,notblank,max=100"`
	ClassName      string  `json:"class_name" validate:"required,notblank,max=10"`
	IdentifierCode *string `json:"identifier_code" validate:"omitempty,max=50"`
	ParentName     string  `json:"parent_name" validate:"required,notblank,max=100"`
	Contact        string  `json:"contact" validate:"required,notblank,max=15"`
	Address        *string `json:"address" validate:"omitempty,max=255"`
}

// CreateStudent — POST /api/students.
func (h *APIHandler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req studentCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	student := &model.Student{
		RollNo:         req.RollNo,
		StudentName:    req.StudentName,
		ClassName:      req.ClassName,
		IdentifierCode: req.IdentifierCode,
	}
	parent := &model.ParentDetail{
		ParentName: req.ParentName,
		Contact:    req.Contact,
		Address:    req.Address,
	}
	if err := h.students.Create(r.Context(), student, parent); err != nil {
		h.writeServiceError(w, err, "Ошибка добавления студента")
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Student added"})
}

// DeleteStudent — DELETE /api/students/{roll_no}.
func (h *APIHandler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	rollNo, err := strconv.Atoi(chi.URLParam(r, "roll_no"))
	if err != nil || rollNo < 1 {
		apierrors.ValidationError(w, "roll_no должен быть положительным целым числом")
		return
	}

	if err := h.students.Delete(r.Context(), rollNo); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления студента")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Student deleted"})
}
