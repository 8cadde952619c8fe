package model

import (
	"time"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
)

// Command — команда управления отпечатком для конкретного устройства.
// Хранится в таблице device_commands.
type Command struct {
	// ID — монотонный идентификатор (bigserial)
	ID int64
	// DeviceID — целевое устройство
	DeviceID string
	// RollNo — целевой студент
	RollNo int
	// Kind — enroll или delete
	Kind command.Kind
	// FingerprintID — слот сенсора 1..127, не меняется после создания
	FingerprintID int
	// Status — статус жизненного цикла
	Status command.Status
	// Message — последнее сообщение устройства или причина завершения
	Message string
	// CreatedAt — время постановки в очередь, от него считается срок доставки
	CreatedAt time.Time
	// UpdatedAt — время последнего изменения статуса или сообщения
	UpdatedAt time.Time
	// CompletedAt — время успешного завершения
	CompletedAt *time.Time
}

// Age возвращает возраст команды относительно now.
func (c *Command) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}
