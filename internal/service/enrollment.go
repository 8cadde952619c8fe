// enrollment.go — запросы на запись и удаление отпечатка студента.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/slot"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// maxSlotAttempts — сколько раз повторяется выбор слота, если параллельный
// запрос успел зарезервировать тот же слот.
const maxSlotAttempts = 5

// EnrollmentService — постановка enroll/delete команд для студентов.
type EnrollmentService struct {
	store    repository.Store
	devices  *DeviceService
	commands *CommandService
	logger   *slog.Logger
}

// NewEnrollmentService создаёт сервис записи отпечатков.
func NewEnrollmentService(
	store repository.Store,
	devices *DeviceService,
	commands *CommandService,
	logger *slog.Logger,
) *EnrollmentService {
	return &EnrollmentService{
		store:    store,
		devices:  devices,
		commands: commands,
		logger:   logger.With(slog.String("component", "enrollment")),
	}
}

// Enroll выбирает свободный слот и ставит enroll-команду на устройство.
//
// Слот считается занятым, если он закреплён за студентом или зарезервирован
// активной enroll-командой. Резерв обеспечивается уникальным индексом:
// при гонке с параллельным запросом выбор слота повторяется.
func (s *EnrollmentService) Enroll(ctx context.Context, rollNo int, deviceID string) (*model.Command, error) {
	repos := s.store.Repos()

	student, err := s.student(ctx, rollNo)
	if err != nil {
		return nil, err
	}
	if student.FingerprintEnrolled {
		return nil, fmt.Errorf("%w: студент %d", ErrAlreadyEnrolled, rollNo)
	}
	if _, err := s.devices.RequireAvailable(ctx, deviceID); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxSlotAttempts; attempt++ {
		pending, err := repos.Commands.HasLiveEnroll(ctx, rollNo)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, fmt.Errorf("%w: студент %d", ErrEnrollmentPending, rollNo)
		}

		fingerprintID, err := s.nextSlot(ctx, repos)
		if err != nil {
			return nil, err
		}

		c, err := s.commands.Enqueue(ctx, deviceID, rollNo, command.KindEnroll, fingerprintID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, err.Error())
			}
			return nil, err
		}

		s.logger.Debug("Слот занят параллельным запросом, повтор",
			slog.Int("roll_no", rollNo),
			slog.Int("fingerprint_id", fingerprintID),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("%w: не удалось зарезервировать слот для студента %d", ErrConflict, rollNo)
}

// DeleteFingerprint ставит delete-команду на слот студента.
func (s *EnrollmentService) DeleteFingerprint(ctx context.Context, rollNo int, deviceID string) (*model.Command, error) {
	student, err := s.student(ctx, rollNo)
	if err != nil {
		return nil, err
	}
	if !student.FingerprintEnrolled || student.FingerprintID == nil {
		return nil, fmt.Errorf("%w: студент %d", ErrNotEnrolled, rollNo)
	}
	if _, err := s.devices.RequireAvailable(ctx, deviceID); err != nil {
		return nil, err
	}

	c, err := s.commands.Enqueue(ctx, deviceID, rollNo, command.KindDelete, *student.FingerprintID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, err.Error())
		}
		return nil, err
	}
	return c, nil
}

func (s *EnrollmentService) student(ctx context.Context, rollNo int) (*model.Student, error) {
	student, err := s.store.Repos().Students.GetByRollNo(ctx, rollNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: студент %d", ErrNotFound, rollNo)
		}
		return nil, err
	}
	return student, nil
}

// nextSlot выбирает наименьший свободный слот.
func (s *EnrollmentService) nextSlot(ctx context.Context, repos repository.Repos) (int, error) {
	enrolled, err := repos.Students.EnrolledSlots(ctx)
	if err != nil {
		return 0, err
	}
	reserved, err := repos.Commands.ReservedSlots(ctx)
	if err != nil {
		return 0, err
	}

	id, err := slot.AllocateNext(append(enrolled, reserved...))
	if err != nil {
		if errors.Is(err, slot.ErrExhausted) {
			return 0, ErrSlotsExhausted
		}
		return 0, err
	}
	return id, nil
}
