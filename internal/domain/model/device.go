// Пакет model — доменные модели Attendance Server.
package model

import "time"

// Режимы работы сканера.
const (
	DeviceModeScanning  = "scanning"
	DeviceModeEnrolling = "enrolling"
	DeviceModeDeleting  = "deleting"
)

// Статусы, которые устройство может сообщить о себе.
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusError   = "error"
)

// Device — сканер отпечатков.
// Хранится в таблице devices.
type Device struct {
	// DeviceID — стабильный идентификатор устройства (например, FP001)
	DeviceID string
	// Name — человекочитаемое имя
	Name string
	// Status — последний статус, сообщённый устройством (online, offline, error).
	// Не определяет доступность: см. IsOnline.
	Status string
	// Mode — режим работы (scanning, enrolling, deleting)
	Mode string
	// LastSeen — время последнего контакта с сервером
	LastSeen time.Time
	// IsActive — false отключает устройство администратором
	IsActive bool
	// CreatedAt — время первого контакта
	CreatedAt time.Time
}

// IsOnline — устройство считается доступным, пока с последнего контакта
// прошло строго меньше window.
func (d *Device) IsOnline(now time.Time, window time.Duration) bool {
	return now.Sub(d.LastSeen) < window
}

// ValidDeviceMode проверяет режим работы устройства.
func ValidDeviceMode(m string) bool {
	switch m {
	case DeviceModeScanning, DeviceModeEnrolling, DeviceModeDeleting:
		return true
	}
	return false
}

// ValidDeviceStatus проверяет статус, сообщённый устройством.
func ValidDeviceStatus(s string) bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusError:
		return true
	}
	return false
}
