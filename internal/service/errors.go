// errors.go — ошибки бизнес-логики сервисного слоя.
//
// Базовые категории — ErrNotFound, ErrConflict, ErrValidation. Конкретные
// причины оборачивают одну из них, поэтому обработчики могут проверять
// как категорию, так и причину через errors.Is.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — состояние ресурса не допускает операцию.
	ErrConflict = errors.New("конфликт состояния")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

var (
	// ErrDeviceOffline — устройство не выходило на связь дольше окна liveness.
	ErrDeviceOffline = fmt.Errorf("%w: устройство не в сети", ErrConflict)
	// ErrDeviceDisabled — устройство отключено администратором.
	ErrDeviceDisabled = fmt.Errorf("%w: устройство отключено", ErrConflict)
	// ErrAlreadyEnrolled — у студента уже записан отпечаток.
	ErrAlreadyEnrolled = fmt.Errorf("%w: отпечаток студента уже записан", ErrConflict)
	// ErrNotEnrolled — у студента нет записанного отпечатка.
	ErrNotEnrolled = fmt.Errorf("%w: отпечаток студента не записан", ErrConflict)
	// ErrSlotsExhausted — все слоты сенсора заняты.
	ErrSlotsExhausted = fmt.Errorf("%w: свободных слотов отпечатков нет", ErrConflict)
	// ErrEnrollmentPending — для студента уже есть активная enroll-команда.
	ErrEnrollmentPending = fmt.Errorf("%w: запись отпечатка уже ожидает выполнения", ErrConflict)
	// ErrCommandFinished — команда уже в конечном статусе, отчёт не применён.
	ErrCommandFinished = fmt.Errorf("%w: команда уже завершена", ErrConflict)
	// ErrInvalidTransition — отчёт недопустим в текущем статусе команды.
	ErrInvalidTransition = fmt.Errorf("%w: недопустимый переход статуса команды", ErrConflict)
)
