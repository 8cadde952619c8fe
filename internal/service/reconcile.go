// reconcile.go — применение успешного результата команды к отпечатку студента.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// Reconciler — единственный путь записи полей отпечатка студента.
type Reconciler struct {
	cache  *FingerprintCache
	logger *slog.Logger
}

// NewReconciler создаёт обработчик. cache может быть nil.
func NewReconciler(cache *FingerprintCache, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cache:  cache,
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

// ApplySuccess переносит результат завершённой команды на студента:
// enroll закрепляет слот команды, delete освобождает его.
// repository.ErrNotFound — студент больше не существует.
func (r *Reconciler) ApplySuccess(ctx context.Context, students repository.StudentRepository, c *model.Command) error {
	var err error
	switch c.Kind {
	case command.KindEnroll:
		err = students.SetFingerprint(ctx, c.RollNo, c.FingerprintID)
	case command.KindDelete:
		err = students.ClearFingerprint(ctx, c.RollNo)
	default:
		return fmt.Errorf("неизвестный тип команды %q", c.Kind)
	}
	if err != nil {
		return err
	}

	r.logger.Info("Отпечаток студента обновлён",
		slog.Int64("command_id", c.ID),
		slog.String("kind", string(c.Kind)),
		slog.Int("roll_no", c.RollNo),
		slog.Int("fingerprint_id", c.FingerprintID),
	)
	return nil
}

// Forget сбрасывает кэш слота команды. Вызывается после коммита.
// Сканирование, прочитавшее студента до коммита, не вернёт старую
// запись в кэш: Delete меняет поколение слота.
func (r *Reconciler) Forget(c *model.Command) {
	if r.cache != nil {
		r.cache.Delete(c.FingerprintID)
	}
}
