// attendance.go — регистрация сканирования отпечатка.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/slot"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

var attendanceScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_scans_total",
	Help: "Сканирования отпечатков по результату (marked, repeat, unknown).",
}, []string{"result"})

// AttendanceService — запись посещаемости по сканированию отпечатка.
type AttendanceService struct {
	store   repository.Store
	devices *DeviceService
	cache   *FingerprintCache
	now     Clock
	logger  *slog.Logger
}

// NewAttendanceService создаёт сервис посещаемости. cache может быть nil.
func NewAttendanceService(
	store repository.Store,
	devices *DeviceService,
	cache *FingerprintCache,
	now Clock,
	logger *slog.Logger,
) *AttendanceService {
	return &AttendanceService{
		store:   store,
		devices: devices,
		cache:   cache,
		now:     now,
		logger:  logger.With(slog.String("component", "attendance")),
	}
}

// Mark находит студента по слоту, отмечает контакт устройства и записывает
// сканирование. Посещаемость за день записывается один раз: повторное
// сканирование возвращает AlreadyMarked.
func (s *AttendanceService) Mark(ctx context.Context, fingerprintID int, deviceID string) (*model.AttendanceMark, error) {
	if !slot.Valid(fingerprintID) {
		return nil, fmt.Errorf("%w: fingerprint_id %d вне диапазона %d-%d",
			ErrValidation, fingerprintID, slot.MinID, slot.MaxID)
	}
	if _, err := s.devices.Touch(ctx, deviceID, nil, nil); err != nil {
		return nil, err
	}

	student, err := s.resolve(ctx, fingerprintID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			attendanceScansTotal.WithLabelValues("unknown").Inc()
		}
		return nil, err
	}

	now := s.now()
	date := s.Today()

	var marked bool
	err = s.store.RunInTx(ctx, func(tx repository.Tx) error {
		repos := tx.Repos()
		if err := repos.Attendance.LogScan(ctx, student.RollNo, deviceID, date, now); err != nil {
			return err
		}
		var markErr error
		marked, markErr = repos.Attendance.MarkPresent(ctx, student.RollNo, date)
		return markErr
	})
	if err != nil {
		return nil, err
	}

	result := "marked"
	if !marked {
		result = "repeat"
	}
	attendanceScansTotal.WithLabelValues(result).Inc()
	s.logger.Info("Сканирование отпечатка",
		slog.Int("roll_no", student.RollNo),
		slog.String("device_id", deviceID),
		slog.Bool("already_marked", !marked),
	)

	return &model.AttendanceMark{
		RollNo:        student.RollNo,
		StudentName:   student.StudentName,
		DeviceID:      deviceID,
		Date:          date,
		Timestamp:     now,
		AlreadyMarked: !marked,
	}, nil
}

// resolve находит студента по слоту через кэш.
func (s *AttendanceService) resolve(ctx context.Context, fingerprintID int) (*model.Student, error) {
	var gen uint64
	if s.cache != nil {
		if student, ok := s.cache.Get(fingerprintID); ok {
			return student, nil
		}
		gen = s.cache.Generation(fingerprintID)
	}

	student, err := s.store.Repos().Students.GetByFingerprint(ctx, fingerprintID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: студент с отпечатком %d", ErrNotFound, fingerprintID)
		}
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetIfCurrent(fingerprintID, student, gen)
	}
	return student, nil
}

// AbsentNotice — отсутствующий студент и текст уведомления родителю.
type AbsentNotice struct {
	*model.AbsentStudent
	Message string
}

// Today возвращает текущую дату без времени.
func (s *AttendanceService) Today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// Finalize закрывает текущий день: все студенты без отметки
// записываются отсутствующими. Повторный вызов ничего не добавляет.
func (s *AttendanceService) Finalize(ctx context.Context) (time.Time, int64, error) {
	date := s.Today()
	n, err := s.store.Repos().Attendance.MarkAbsent(ctx, date)
	if err != nil {
		return date, 0, err
	}

	s.logger.Info("День посещаемости закрыт",
		slog.String("date", date.Format(time.DateOnly)),
		slog.Int64("absent", n),
	)
	return date, n, nil
}

// Absent возвращает отсутствующих за дату с уведомлениями для родителей.
func (s *AttendanceService) Absent(ctx context.Context, date time.Time, className string) ([]AbsentNotice, error) {
	absent, err := s.store.Repos().Attendance.ListAbsent(ctx, date, className)
	if err != nil {
		return nil, err
	}

	day := date.Format(time.DateOnly)
	result := make([]AbsentNotice, 0, len(absent))
	for _, a := range absent {
		result = append(result, AbsentNotice{
			AbsentStudent: a,
			Message:       fmt.Sprintf("Dear Parent, Your child %s was absent on %s.", a.StudentName, day),
		})
	}
	return result, nil
}
