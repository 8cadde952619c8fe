package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// setupQueue создаёт окружение с устройством FP001 на связи и студентами.
func setupQueue(t *testing.T, rollNos ...int) *testEnv {
	t.Helper()
	env := newTestEnv()
	if _, err := env.devices.Touch(context.Background(), "FP001", nil, nil); err != nil {
		t.Fatalf("Touch() ошибка: %v", err)
	}
	for _, rn := range rollNos {
		env.store.addStudent(rn, "Student")
	}
	return env
}

func TestPollNext_EmptyQueueTouchesDevice(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	got, err := env.commands.PollNext(ctx, "FP009")
	if err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}
	if got != nil {
		t.Errorf("PollNext() = %+v, ожидалось nil", got)
	}

	view, err := env.devices.Get(ctx, "FP009")
	if err != nil {
		t.Fatalf("устройство не создано при poll: %v", err)
	}
	if !view.Online {
		t.Error("устройство должно быть online сразу после poll")
	}
}

func TestPollNext_FIFO(t *testing.T) {
	env := setupQueue(t, 1, 2)
	ctx := context.Background()

	first, err := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	if err != nil {
		t.Fatalf("Enqueue() ошибка: %v", err)
	}
	env.clock.Advance(time.Second)
	second, err := env.commands.Enqueue(ctx, "FP001", 2, command.KindEnroll, 2)
	if err != nil {
		t.Fatalf("Enqueue() ошибка: %v", err)
	}

	for _, want := range []int64{first.ID, second.ID} {
		got, err := env.commands.PollNext(ctx, "FP001")
		if err != nil {
			t.Fatalf("PollNext() ошибка: %v", err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("PollNext() = %+v, ожидалась команда %d", got, want)
		}
		if got.Status != command.StatusInProgress {
			t.Errorf("Status = %s, ожидался in_progress", got.Status)
		}
		if got.StudentName != "Student" {
			t.Errorf("StudentName = %q", got.StudentName)
		}
	}

	got, err := env.commands.PollNext(ctx, "FP001")
	if err != nil || got != nil {
		t.Errorf("очередь должна быть пуста: %+v, %v", got, err)
	}
}

func TestPollNext_ExpiresStaleCommand(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		delivered bool
	}{
		{"возраст 300 секунд — выдаётся", 300 * time.Second, true},
		{"возраст 301 секунда — истекает", 301 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupQueue(t, 1)
			ctx := context.Background()

			c, err := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
			if err != nil {
				t.Fatalf("Enqueue() ошибка: %v", err)
			}
			env.clock.Advance(tt.age)

			got, err := env.commands.PollNext(ctx, "FP001")
			if err != nil {
				t.Fatalf("PollNext() ошибка: %v", err)
			}

			stored := env.store.command(c.ID)
			if tt.delivered {
				if got == nil || got.ID != c.ID {
					t.Fatalf("команда должна быть выдана, получено %+v", got)
				}
				return
			}
			if got != nil {
				t.Fatalf("просроченная команда выдана устройству: %+v", got)
			}
			if stored.Status != command.StatusExpired {
				t.Errorf("Status = %s, ожидался expired", stored.Status)
			}
			if stored.Message != command.TimeoutMessage {
				t.Errorf("Message = %q, ожидалось %q", stored.Message, command.TimeoutMessage)
			}

			// Повторный poll не выдаёт её снова
			again, err := env.commands.PollNext(ctx, "FP001")
			if err != nil || again != nil {
				t.Errorf("повторный PollNext() = %+v, %v", again, err)
			}
		})
	}
}

func TestPollNext_ConcurrentPollsClaimOnce(t *testing.T) {
	env := setupQueue(t, 1)
	ctx := context.Background()

	c, err := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	if err != nil {
		t.Fatalf("Enqueue() ошибка: %v", err)
	}

	const pollers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for range pollers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.commands.PollNext(ctx, "FP001")
			if err != nil {
				t.Errorf("PollNext() ошибка: %v", err)
				return
			}
			if got != nil && got.ID == c.ID {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Errorf("команда выдана %d раз, ожидалось ровно 1", claimed)
	}
}

func TestReportOutcome_Reconciliation(t *testing.T) {
	env := setupQueue(t, 42)
	ctx := context.Background()

	// enroll в слот 7
	enroll, err := env.commands.Enqueue(ctx, "FP001", 42, command.KindEnroll, 7)
	if err != nil {
		t.Fatalf("Enqueue() ошибка: %v", err)
	}
	if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}
	done, err := env.commands.ReportOutcome(ctx, enroll.ID, command.OutcomeSuccess, "")
	if err != nil {
		t.Fatalf("ReportOutcome() ошибка: %v", err)
	}
	if done.Status != command.StatusCompleted || done.CompletedAt == nil {
		t.Errorf("команда после success = %+v", done)
	}

	s := env.store.student(42)
	if !s.FingerprintEnrolled || s.FingerprintID == nil || *s.FingerprintID != 7 {
		t.Fatalf("после enroll студент = %+v, ожидался слот 7", s)
	}

	// delete того же слота
	del, err := env.commands.Enqueue(ctx, "FP001", 42, command.KindDelete, 7)
	if err != nil {
		t.Fatalf("Enqueue() ошибка: %v", err)
	}
	if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}
	if _, err := env.commands.ReportOutcome(ctx, del.ID, command.OutcomeSuccess, "deleted"); err != nil {
		t.Fatalf("ReportOutcome() ошибка: %v", err)
	}

	s = env.store.student(42)
	if s.FingerprintEnrolled || s.FingerprintID != nil {
		t.Errorf("после delete студент = %+v, ожидался пустой слот", s)
	}
}

func TestReportOutcome_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		outcome     command.Outcome
		message     string
		wantStatus  command.Status
		wantMessage string
	}{
		{"ошибка устройства", command.OutcomeError, "sensor timeout", command.StatusFailed, "sensor timeout"},
		{"промежуточный отчёт", command.OutcomeProgress, "place finger again", command.StatusInProgress, "place finger again"},
		{"успех без сообщения", command.OutcomeSuccess, "", command.StatusCompleted, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupQueue(t, 1)
			ctx := context.Background()

			c, err := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
			if err != nil {
				t.Fatalf("Enqueue() ошибка: %v", err)
			}
			if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
				t.Fatalf("PollNext() ошибка: %v", err)
			}
			env.clock.Advance(5 * time.Second)

			got, err := env.commands.ReportOutcome(ctx, c.ID, tt.outcome, tt.message)
			if err != nil {
				t.Fatalf("ReportOutcome() ошибка: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, ожидался %s", got.Status, tt.wantStatus)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, ожидалось %q", got.Message, tt.wantMessage)
			}
			if !got.UpdatedAt.Equal(env.clock.Now()) {
				t.Errorf("UpdatedAt = %v, ожидалось %v", got.UpdatedAt, env.clock.Now())
			}
		})
	}
}

func TestReportOutcome_TerminalCommandUnchanged(t *testing.T) {
	env := setupQueue(t, 1)
	ctx := context.Background()

	c, _ := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}
	if _, err := env.commands.ReportOutcome(ctx, c.ID, command.OutcomeError, "no finger"); err != nil {
		t.Fatalf("ReportOutcome() ошибка: %v", err)
	}
	before := env.store.command(c.ID)

	for _, outcome := range []command.Outcome{command.OutcomeSuccess, command.OutcomeError, command.OutcomeProgress} {
		_, err := env.commands.ReportOutcome(ctx, c.ID, outcome, "late report")
		if !errors.Is(err, ErrCommandFinished) {
			t.Errorf("%s: ожидалась ErrCommandFinished, получено %v", outcome, err)
		}
		if !errors.Is(err, ErrConflict) {
			t.Errorf("%s: ErrCommandFinished должна оборачивать ErrConflict", outcome)
		}
	}

	after := env.store.command(c.ID)
	if after.Status != before.Status || after.Message != before.Message {
		t.Errorf("завершённая команда изменена: было %+v, стало %+v", before, after)
	}
	if s := env.store.student(1); s.FingerprintEnrolled {
		t.Error("поздний success не должен записывать отпечаток")
	}
}

func TestReportOutcome_PendingCommandRejected(t *testing.T) {
	env := setupQueue(t, 1)
	ctx := context.Background()

	c, _ := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	_, err := env.commands.ReportOutcome(ctx, c.ID, command.OutcomeSuccess, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ожидалась ErrInvalidTransition, получено %v", err)
	}
	if got := env.store.command(c.ID); got.Status != command.StatusPending {
		t.Errorf("Status = %s, ожидался pending", got.Status)
	}
}

func TestReportOutcome_Errors(t *testing.T) {
	env := setupQueue(t)
	ctx := context.Background()

	if _, err := env.commands.ReportOutcome(ctx, 999, command.OutcomeSuccess, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующая команда: ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := env.commands.ReportOutcome(ctx, 1, command.Outcome("done"), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный результат: ожидалась ErrValidation, получено %v", err)
	}
}

func TestReportOutcome_StudentWriteFailureKeepsCompletion(t *testing.T) {
	env := setupQueue(t, 1)
	ctx := context.Background()

	c, _ := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 3)
	if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}

	env.store.setFingerprintErr = repository.ErrNotFound
	got, err := env.commands.ReportOutcome(ctx, c.ID, command.OutcomeSuccess, "")
	if err != nil {
		t.Fatalf("ошибка записи студента не должна возвращаться: %v", err)
	}
	if got.Status != command.StatusCompleted {
		t.Errorf("Status = %s, ожидался completed", got.Status)
	}
	if stored := env.store.command(c.ID); stored.Status != command.StatusCompleted {
		t.Errorf("сохранённый Status = %s, ожидался completed", stored.Status)
	}
}

func TestExpireStale(t *testing.T) {
	env := setupQueue(t, 1, 2, 3)
	ctx := context.Background()

	stuck, _ := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}
	env.clock.Advance(4 * time.Minute)
	waiting, _ := env.commands.Enqueue(ctx, "FP001", 2, command.KindEnroll, 2)
	env.clock.Advance(2 * time.Minute)
	fresh, _ := env.commands.Enqueue(ctx, "FP001", 3, command.KindEnroll, 3)

	// 6 минут: pending-команде 2 минуты, зависшей — 6 минут (таймаут 10)
	res, err := env.commands.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale() ошибка: %v", err)
	}
	if res.Pending != 0 || res.InProgress != 0 {
		t.Errorf("преждевременное истечение: %+v", res)
	}

	env.clock.Advance(6 * time.Minute)
	res, err = env.commands.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale() ошибка: %v", err)
	}
	if res.Pending != 2 || res.InProgress != 1 {
		t.Errorf("ExpireStale() = %+v, ожидалось 2 pending и 1 in_progress", res)
	}
	for _, id := range []int64{stuck.ID, waiting.ID, fresh.ID} {
		if got := env.store.command(id); got.Status != command.StatusExpired {
			t.Errorf("команда %d: Status = %s, ожидался expired", id, got.Status)
		}
	}

	// Истёкший резерв освобождает слот
	slots, _ := env.store.Repos().Commands.ReservedSlots(ctx)
	if len(slots) != 0 {
		t.Errorf("ReservedSlots() = %v, ожидался пустой список", slots)
	}
}

func TestExpireStale_InProgressTimeoutDisabled(t *testing.T) {
	env := setupQueue(t, 1)
	env.commands.inProgress = 0
	ctx := context.Background()

	c, _ := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	if _, err := env.commands.PollNext(ctx, "FP001"); err != nil {
		t.Fatalf("PollNext() ошибка: %v", err)
	}
	env.clock.Advance(24 * time.Hour)

	res, err := env.commands.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale() ошибка: %v", err)
	}
	if res.InProgress != 0 {
		t.Errorf("InProgress = %d, ожидалось 0", res.InProgress)
	}
	if got := env.store.command(c.ID); got.Status != command.StatusInProgress {
		t.Errorf("Status = %s, ожидался in_progress", got.Status)
	}
}

func TestEnqueue_NotifiesDevice(t *testing.T) {
	env := setupQueue(t, 1)
	n := &recordingNotifier{}
	env.commands.SetNotifier(n)

	c, err := env.commands.Enqueue(context.Background(), "FP001", 1, command.KindEnroll, 4)
	if err != nil {
		t.Fatalf("Enqueue() ошибка: %v", err)
	}
	if len(n.ids) != 1 || n.ids[0] != c.ID {
		t.Errorf("уведомления = %v, ожидалось [%d]", n.ids, c.ID)
	}
}

func TestHistoryAndGet(t *testing.T) {
	env := setupQueue(t, 1, 2)
	ctx := context.Background()

	first, _ := env.commands.Enqueue(ctx, "FP001", 1, command.KindEnroll, 1)
	second, _ := env.commands.Enqueue(ctx, "FP001", 2, command.KindEnroll, 2)

	history, err := env.commands.History(ctx, "FP001", 1)
	if err != nil {
		t.Fatalf("History() ошибка: %v", err)
	}
	if len(history) != 1 || history[0].ID != second.ID {
		t.Errorf("History() = %+v, ожидалась только команда %d", history, second.ID)
	}
	if _, err := env.commands.History(ctx, "", 10); !errors.Is(err, ErrValidation) {
		t.Errorf("History без device_id: ожидалась ErrValidation, получено %v", err)
	}

	got, err := env.commands.Get(ctx, first.ID)
	if err != nil || got.ID != first.ID {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if _, err := env.commands.Get(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(404): ожидалась ErrNotFound, получено %v", err)
	}
}
