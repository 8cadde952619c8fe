package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// DeviceTouch — параметры отметки контакта устройства.
type DeviceTouch struct {
	DeviceID string
	// Status — статус, сообщённый устройством; nil означает online
	Status *string
	// Mode — новый режим; nil оставляет текущий
	Mode *string
	// Now — время контакта
	Now time.Time
}

// DeviceRepository — интерфейс доступа к таблице devices.
type DeviceRepository interface {
	// Touch создаёт устройство при первом контакте или обновляет last_seen,
	// статус и (опционально) режим существующего.
	Touch(ctx context.Context, t DeviceTouch) (*model.Device, error)
	// GetByID возвращает устройство по идентификатору.
	GetByID(ctx context.Context, deviceID string) (*model.Device, error)
	// List возвращает все устройства, упорядоченные по device_id.
	List(ctx context.Context) ([]*model.Device, error)
	// SetActive включает или отключает устройство. ErrNotFound — устройства нет.
	SetActive(ctx context.Context, deviceID string, active bool) (*model.Device, error)
}

type deviceRepo struct {
	db DBTX
}

// NewDeviceRepository создаёт репозиторий устройств.
func NewDeviceRepository(db DBTX) DeviceRepository {
	return &deviceRepo{db: db}
}

const deviceColumns = `device_id, name, status, current_mode, last_seen, is_active, created_at`

func scanDevice(row pgx.Row) (*model.Device, error) {
	d := &model.Device{}
	err := row.Scan(&d.DeviceID, &d.Name, &d.Status, &d.Mode, &d.LastSeen, &d.IsActive, &d.CreatedAt)
	return d, err
}

func (r *deviceRepo) Touch(ctx context.Context, t DeviceTouch) (*model.Device, error) {
	// Новое устройство получает имя, совпадающее с идентификатором.
	query := `
		INSERT INTO devices (device_id, name, status, current_mode, last_seen, created_at)
		VALUES ($1, $1, COALESCE($2, 'online'), COALESCE($3, 'scanning'), $4, $4)
		ON CONFLICT (device_id) DO UPDATE
		SET last_seen    = EXCLUDED.last_seen,
		    status       = EXCLUDED.status,
		    current_mode = COALESCE($3, devices.current_mode)
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.QueryRow(ctx, query, t.DeviceID, t.Status, t.Mode, t.Now))
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления устройства %s: %w", t.DeviceID, err)
	}
	return d, nil
}

func (r *deviceRepo) GetByID(ctx context.Context, deviceID string) (*model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	d, err := scanDevice(r.db.QueryRow(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения устройства: %w", err)
	}
	return d, nil
}

func (r *deviceRepo) List(ctx context.Context) ([]*model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY device_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка устройств: %w", err)
	}
	defer rows.Close()

	var result []*model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования устройства: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *deviceRepo) SetActive(ctx context.Context, deviceID string, active bool) (*model.Device, error) {
	query := `UPDATE devices SET is_active = $2 WHERE device_id = $1 RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.QueryRow(ctx, query, deviceID, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка изменения активности устройства %s: %w", deviceID, err)
	}
	return d, nil
}
