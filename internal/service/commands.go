// commands.go — очередь команд устройств: постановка, выдача при poll,
// приём отчётов и истечение сроков.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// Prometheus-метрики очереди команд.
var (
	commandsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_commands_enqueued_total",
		Help: "Общее количество команд, поставленных в очередь.",
	}, []string{"kind"})

	commandTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_command_transitions_total",
		Help: "Переходы статусов команд по целевому статусу.",
	}, []string{"status"})

	commandPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_command_polls_total",
		Help: "Обращения устройств за командами по результату (command, empty, expired).",
	}, []string{"result"})

	commandReportsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_command_reports_rejected_total",
		Help: "Отклонённые отчёты устройств по причине.",
	}, []string{"reason"})
)

// CommandNotifier — уведомление устройства о новой команде в очереди.
// Доставка не гарантируется: устройство всё равно забирает команды через poll.
type CommandNotifier interface {
	CommandQueued(ctx context.Context, c *model.Command)
}

// PolledCommand — команда, выданная устройству, с именем студента.
type PolledCommand struct {
	*model.Command
	StudentName string
}

// ExpiryResult — результат одного прохода истечения сроков.
type ExpiryResult struct {
	// Pending — просроченные до доставки
	Pending int64
	// InProgress — зависшие на устройстве
	InProgress int64
}

// CommandService — очередь команд управления отпечатками.
type CommandService struct {
	store      repository.Store
	devices    *DeviceService
	reconciler *Reconciler
	notifier   CommandNotifier
	expiry     time.Duration
	inProgress time.Duration
	now        Clock
	logger     *slog.Logger
}

// NewCommandService создаёт очередь команд.
// expiry — срок доставки pending-команды (AT_COMMAND_EXPIRY),
// inProgress — срок выполнения in_progress-команды (AT_COMMAND_IN_PROGRESS_TIMEOUT, 0 — без срока).
func NewCommandService(
	store repository.Store,
	devices *DeviceService,
	reconciler *Reconciler,
	expiry time.Duration,
	inProgress time.Duration,
	now Clock,
	logger *slog.Logger,
) *CommandService {
	return &CommandService{
		store:      store,
		devices:    devices,
		reconciler: reconciler,
		expiry:     expiry,
		inProgress: inProgress,
		now:        now,
		logger:     logger.With(slog.String("component", "command_queue")),
	}
}

// SetNotifier подключает уведомления о новых командах. nil отключает их.
func (s *CommandService) SetNotifier(n CommandNotifier) {
	s.notifier = n
}

// Enqueue ставит команду в очередь устройства в статусе pending.
// Проверки устройства и студента — забота вызывающей стороны.
func (s *CommandService) Enqueue(ctx context.Context, deviceID string, rollNo int, kind command.Kind, fingerprintID int) (*model.Command, error) {
	c := &model.Command{
		DeviceID:      deviceID,
		RollNo:        rollNo,
		Kind:          kind,
		FingerprintID: fingerprintID,
		Status:        command.StatusPending,
		CreatedAt:     s.now(),
	}
	if err := s.store.Repos().Commands.Create(ctx, c); err != nil {
		return nil, err
	}

	commandsEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Info("Команда поставлена в очередь",
		slog.Int64("command_id", c.ID),
		slog.String("device_id", deviceID),
		slog.String("kind", string(kind)),
		slog.Int("roll_no", rollNo),
		slog.Int("fingerprint_id", fingerprintID),
	)

	if s.notifier != nil {
		s.notifier.CommandQueued(ctx, c)
	}
	return c, nil
}

// PollNext отмечает контакт устройства и выдаёт ему самую старую
// pending-команду, переводя её в in_progress. Просроченная команда
// помечается expired и не выдаётся. (nil, nil) — выдавать нечего.
func (s *CommandService) PollNext(ctx context.Context, deviceID string) (*PolledCommand, error) {
	if _, err := s.devices.Touch(ctx, deviceID, nil, nil); err != nil {
		return nil, err
	}

	now := s.now()
	repos := s.store.Repos()
	c, err := repos.Commands.ClaimNext(ctx, deviceID, now, now.Add(-s.expiry))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			commandPollsTotal.WithLabelValues("empty").Inc()
			return nil, nil
		}
		return nil, err
	}

	commandTransitionsTotal.WithLabelValues(string(c.Status)).Inc()

	if c.Status == command.StatusExpired {
		commandPollsTotal.WithLabelValues("expired").Inc()
		s.logger.Warn("Команда истекла до доставки",
			slog.Int64("command_id", c.ID),
			slog.String("device_id", deviceID),
			slog.Duration("age", c.Age(now)),
		)
		return nil, nil
	}

	commandPollsTotal.WithLabelValues("command").Inc()
	s.logger.Info("Команда выдана устройству",
		slog.Int64("command_id", c.ID),
		slog.String("device_id", deviceID),
		slog.String("kind", string(c.Kind)),
	)

	result := &PolledCommand{Command: c}
	student, err := repos.Students.GetByRollNo(ctx, c.RollNo)
	switch {
	case err == nil:
		result.StudentName = student.StudentName
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Студент команды не найден", slog.Int64("command_id", c.ID), slog.Int("roll_no", c.RollNo))
	default:
		// Команда уже in_progress: имя студента не критично для устройства
		s.logger.Error("Ошибка получения студента команды", slog.Int64("command_id", c.ID), slog.String("error", err.Error()))
	}
	return result, nil
}

// ReportOutcome применяет отчёт устройства к команде.
//
// success → completed и перенос результата на студента, error → failed,
// in_progress → обновляется только message. Отчёт о команде в конечном
// статусе не меняет её и возвращает ErrCommandFinished.
func (s *CommandService) ReportOutcome(ctx context.Context, commandID int64, outcome command.Outcome, message string) (*model.Command, error) {
	ev := outcome.Event()
	if ev == "" {
		return nil, fmt.Errorf("%w: недопустимый результат %q", ErrValidation, outcome)
	}

	var updated *model.Command
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		repos := tx.Repos()
		c, err := repos.Commands.GetForUpdate(ctx, commandID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: команда %d", ErrNotFound, commandID)
			}
			return err
		}

		next, err := command.Next(c.Status, ev)
		if err != nil {
			return s.rejectReport(c, outcome, err)
		}

		now := s.now()
		c.Status = next
		if message != "" {
			c.Message = message
		}
		c.UpdatedAt = now
		if next == command.StatusCompleted {
			c.CompletedAt = &now
		}
		if err := repos.Commands.Update(ctx, c); err != nil {
			return err
		}

		if next == command.StatusCompleted {
			// Ошибка записи студента не отменяет завершение команды
			spErr := tx.Savepoint(ctx, func(r repository.Repos) error {
				return s.reconciler.ApplySuccess(ctx, r.Students, c)
			})
			if spErr != nil {
				s.logger.Error("Результат команды не применён к студенту",
					slog.Int64("command_id", c.ID),
					slog.Int("roll_no", c.RollNo),
					slog.String("error", spErr.Error()),
				)
			}
		}

		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == command.StatusCompleted {
		s.reconciler.Forget(updated)
	}
	commandTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	s.logger.Info("Отчёт устройства применён",
		slog.Int64("command_id", updated.ID),
		slog.String("device_id", updated.DeviceID),
		slog.String("outcome", string(outcome)),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// rejectReport переводит ошибку автомата в ошибку сервиса.
func (s *CommandService) rejectReport(c *model.Command, outcome command.Outcome, err error) error {
	var te *command.TransitionError
	if errors.As(err, &te) && te.Code == command.CodeTerminal {
		commandReportsRejectedTotal.WithLabelValues("finished").Inc()
		s.logger.Warn("Отчёт о завершённой команде проигнорирован",
			slog.Int64("command_id", c.ID),
			slog.String("status", string(c.Status)),
			slog.String("outcome", string(outcome)),
		)
		return fmt.Errorf("%w: команда %d в статусе %s", ErrCommandFinished, c.ID, c.Status)
	}

	commandReportsRejectedTotal.WithLabelValues("invalid_transition").Inc()
	s.logger.Warn("Недопустимый отчёт устройства",
		slog.Int64("command_id", c.ID),
		slog.String("status", string(c.Status)),
		slog.String("outcome", string(outcome)),
	)
	return fmt.Errorf("%w: %s", ErrInvalidTransition, err.Error())
}

// Get возвращает команду по идентификатору.
func (s *CommandService) Get(ctx context.Context, commandID int64) (*model.Command, error) {
	c, err := s.store.Repos().Commands.GetByID(ctx, commandID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: команда %d", ErrNotFound, commandID)
		}
		return nil, err
	}
	return c, nil
}

// History возвращает последние команды устройства, новые первыми.
func (s *CommandService) History(ctx context.Context, deviceID string, limit int) ([]*model.Command, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id обязателен", ErrValidation)
	}
	return s.store.Repos().Commands.ListByDevice(ctx, deviceID, limit)
}

// ExpireStale переводит в expired pending-команды старше срока доставки
// и in_progress-команды без обновлений дольше срока выполнения.
func (s *CommandService) ExpireStale(ctx context.Context) (ExpiryResult, error) {
	var result ExpiryResult
	now := s.now()
	commands := s.store.Repos().Commands

	n, err := commands.ExpirePending(ctx, now.Add(-s.expiry), now)
	if err != nil {
		return result, err
	}
	result.Pending = n

	if s.inProgress > 0 {
		n, err = commands.ExpireInProgress(ctx, now.Add(-s.inProgress), now)
		if err != nil {
			return result, err
		}
		result.InProgress = n
	}

	if total := result.Pending + result.InProgress; total > 0 {
		commandTransitionsTotal.WithLabelValues(string(command.StatusExpired)).Add(float64(total))
	}
	return result, nil
}
