// students.go — учёт студентов и контактов родителей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// StudentService — CRUD студентов.
type StudentService struct {
	store  repository.Store
	cache  *FingerprintCache
	logger *slog.Logger
}

// NewStudentService создаёт сервис студентов. cache может быть nil.
func NewStudentService(store repository.Store, cache *FingerprintCache, logger *slog.Logger) *StudentService {
	return &StudentService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "students")),
	}
}

// List возвращает всех студентов.
func (s *StudentService) List(ctx context.Context) ([]*model.Student, error) {
	return s.store.Repos().Students.List(ctx)
}

// Create добавляет студента вместе с контактом родителя в одной транзакции.
func (s *StudentService) Create(ctx context.Context, student *model.Student, parent *model.ParentDetail) error {
	parent.RollNo = student.RollNo

	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		repos := tx.Repos()
		if err := repos.Students.Create(ctx, student); err != nil {
			return err
		}
		return repos.Students.CreateParent(ctx, parent)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrConflict, err.Error())
		}
		return err
	}

	s.logger.Info("Студент добавлен",
		slog.Int("roll_no", student.RollNo),
		slog.String("class", student.ClassName),
	)
	return nil
}

// Delete удаляет студента. Команды и посещаемость студента удаляются каскадно.
func (s *StudentService) Delete(ctx context.Context, rollNo int) error {
	students := s.store.Repos().Students

	student, err := students.GetByRollNo(ctx, rollNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: студент %d", ErrNotFound, rollNo)
		}
		return err
	}

	if err := students.Delete(ctx, rollNo); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: студент %d", ErrNotFound, rollNo)
		}
		return err
	}

	if student.FingerprintID != nil && s.cache != nil {
		s.cache.Delete(*student.FingerprintID)
	}
	s.logger.Info("Студент удалён", slog.Int("roll_no", rollNo))
	return nil
}
