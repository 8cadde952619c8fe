package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// CommandRepository — интерфейс доступа к очереди команд (таблица device_commands).
type CommandRepository interface {
	// Create ставит команду в очередь. Заполняет ID.
	// ErrConflict — слот или студент уже заняты другой активной enroll-командой.
	// ErrNotFound — устройство или студент не существуют.
	Create(ctx context.Context, c *model.Command) error
	// ClaimNext атомарно забирает самую старую pending-команду устройства.
	// Команда, созданная раньше expiredBefore, переводится в expired,
	// остальные — в in_progress. ErrNotFound — очередь пуста.
	ClaimNext(ctx context.Context, deviceID string, now, expiredBefore time.Time) (*model.Command, error)
	// GetByID возвращает команду.
	GetByID(ctx context.Context, id int64) (*model.Command, error)
	// GetForUpdate возвращает команду с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (*model.Command, error)
	// Update сохраняет статус, сообщение и временные метки команды.
	Update(ctx context.Context, c *model.Command) error
	// ReservedSlots возвращает слоты, занятые активными enroll-командами.
	ReservedSlots(ctx context.Context) ([]int, error)
	// HasLiveEnroll сообщает, есть ли у студента активная enroll-команда.
	HasLiveEnroll(ctx context.Context, rollNo int) (bool, error)
	// ExpirePending переводит в expired pending-команды, созданные раньше before.
	ExpirePending(ctx context.Context, before, now time.Time) (int64, error)
	// ExpireInProgress переводит в expired in_progress-команды,
	// не обновлявшиеся с момента before.
	ExpireInProgress(ctx context.Context, before, now time.Time) (int64, error)
	// ListByDevice возвращает последние команды устройства, новые первыми.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.Command, error)
}

type commandRepo struct {
	db DBTX
}

// NewCommandRepository создаёт репозиторий очереди команд.
func NewCommandRepository(db DBTX) CommandRepository {
	return &commandRepo{db: db}
}

const commandColumns = `id, device_id, roll_no, command_type, fingerprint_id,
	status, message, created_at, updated_at, completed_at`

func scanCommand(row pgx.Row) (*model.Command, error) {
	c := &model.Command{}
	var kind, status string
	err := row.Scan(
		&c.ID, &c.DeviceID, &c.RollNo, &kind, &c.FingerprintID,
		&status, &c.Message, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Kind, err = command.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("команда %d: %w", c.ID, err)
	}
	if c.Status, err = command.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("команда %d: %w", c.ID, err)
	}
	return c, nil
}

// transition возвращает целевой статус перехода очереди по автомату команды.
func transition(from command.Status, ev command.Event) (command.Status, error) {
	next, err := command.Next(from, ev)
	if err != nil {
		return "", fmt.Errorf("переход очереди %s/%s: %w", from, ev, err)
	}
	return next, nil
}

func (r *commandRepo) Create(ctx context.Context, c *model.Command) error {
	query := `
		INSERT INTO device_commands (device_id, roll_no, command_type, fingerprint_id,
			status, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.DeviceID, c.RollNo, c.Kind, c.FingerprintID, c.Status, c.Message, c.CreatedAt,
	).Scan(&c.ID, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: слот %d или студент %d заняты активной enroll-командой",
				ErrConflict, c.FingerprintID, c.RollNo)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: устройство %s или студент %d", ErrNotFound, c.DeviceID, c.RollNo)
		}
		return fmt.Errorf("ошибка создания команды: %w", err)
	}
	return nil
}

func (r *commandRepo) ClaimNext(ctx context.Context, deviceID string, now, expiredBefore time.Time) (*model.Command, error) {
	// Выбор и смена статуса — один оператор: строка, заблокированная
	// параллельным poll, пропускается, а повторная проверка статуса pending
	// не даёт выдать одну команду дважды.
	claimed, err := transition(command.StatusPending, command.EventPoll)
	if err != nil {
		return nil, err
	}
	expired, err := transition(command.StatusPending, command.EventExpire)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE device_commands
		SET status = CASE WHEN created_at < $2 THEN $5::varchar ELSE $6::varchar END,
		    message = CASE WHEN created_at < $2 THEN $4 ELSE message END,
		    updated_at = $3
		WHERE id = (
			SELECT id FROM device_commands
			WHERE device_id = $1 AND status = $7
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $7
		RETURNING ` + commandColumns

	c, err := scanCommand(r.db.QueryRow(ctx, query,
		deviceID, expiredBefore, now, command.TimeoutMessage,
		string(expired), string(claimed), string(command.StatusPending),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка выборки команды для %s: %w", deviceID, err)
	}
	return c, nil
}

func (r *commandRepo) GetByID(ctx context.Context, id int64) (*model.Command, error) {
	return r.get(ctx, `SELECT `+commandColumns+` FROM device_commands WHERE id = $1`, id)
}

func (r *commandRepo) GetForUpdate(ctx context.Context, id int64) (*model.Command, error) {
	return r.get(ctx, `SELECT `+commandColumns+` FROM device_commands WHERE id = $1 FOR UPDATE`, id)
}

func (r *commandRepo) get(ctx context.Context, query string, id int64) (*model.Command, error) {
	c, err := scanCommand(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения команды %d: %w", id, err)
	}
	return c, nil
}

func (r *commandRepo) Update(ctx context.Context, c *model.Command) error {
	query := `
		UPDATE device_commands
		SET status = $2, message = $3, updated_at = $4, completed_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, c.ID, c.Status, c.Message, c.UpdatedAt, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления команды %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *commandRepo) ReservedSlots(ctx context.Context) ([]int, error) {
	query := `
		SELECT fingerprint_id FROM device_commands
		WHERE command_type = $1 AND status IN ($2, $3)`

	rows, err := r.db.Query(ctx, query,
		string(command.KindEnroll), string(command.StatusPending), string(command.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зарезервированных слотов: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *commandRepo) HasLiveEnroll(ctx context.Context, rollNo int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM device_commands
			WHERE roll_no = $1 AND command_type = $2
			  AND status IN ($3, $4)
		)`

	var exists bool
	err := r.db.QueryRow(ctx, query, rollNo,
		string(command.KindEnroll), string(command.StatusPending), string(command.StatusInProgress),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки активной записи студента %d: %w", rollNo, err)
	}
	return exists, nil
}

func (r *commandRepo) ExpirePending(ctx context.Context, before, now time.Time) (int64, error) {
	query := `
		UPDATE device_commands
		SET status = $4, message = $3, updated_at = $2
		WHERE status = $5 AND created_at < $1`

	n, err := r.expire(ctx, query, command.StatusPending, before, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка истечения pending-команд: %w", err)
	}
	return n, nil
}

func (r *commandRepo) ExpireInProgress(ctx context.Context, before, now time.Time) (int64, error) {
	query := `
		UPDATE device_commands
		SET status = $4, message = $3, updated_at = $2
		WHERE status = $5 AND updated_at < $1`

	n, err := r.expire(ctx, query, command.StatusInProgress, before, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка истечения зависших команд: %w", err)
	}
	return n, nil
}

// expire выполняет массовое истечение команд статуса from.
func (r *commandRepo) expire(ctx context.Context, query string, from command.Status, before, now time.Time) (int64, error) {
	to, err := transition(from, command.EventExpire)
	if err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx, query, before, now, command.TimeoutMessage, string(to), string(from))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *commandRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM device_commands
		WHERE device_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории команд: %w", err)
	}
	defer rows.Close()

	var result []*model.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования команды: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
