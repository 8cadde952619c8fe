// devices.go — реестр устройств: отметка контакта и вычисляемая доступность.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// DeviceView — устройство с доступностью, вычисленной на момент чтения.
type DeviceView struct {
	*model.Device
	Online bool
}

// DeviceService — реестр сканеров отпечатков.
type DeviceService struct {
	repo   repository.DeviceRepository
	window time.Duration
	now    Clock
	logger *slog.Logger
}

// NewDeviceService создаёт реестр устройств.
// window — окно liveness (AT_DEVICE_ONLINE_WINDOW).
func NewDeviceService(repo repository.DeviceRepository, window time.Duration, now Clock, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		repo:   repo,
		window: window,
		now:    now,
		logger: logger.With(slog.String("component", "device_registry")),
	}
}

// Touch отмечает контакт устройства: создаёт его при первом обращении,
// обновляет last_seen, статус (online, если устройство не сообщило другой)
// и режим, если он передан.
func (s *DeviceService) Touch(ctx context.Context, deviceID string, status, mode *string) (*model.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id обязателен", ErrValidation)
	}
	if status != nil && !model.ValidDeviceStatus(*status) {
		return nil, fmt.Errorf("%w: недопустимый статус устройства %q", ErrValidation, *status)
	}
	if mode != nil && !model.ValidDeviceMode(*mode) {
		return nil, fmt.Errorf("%w: недопустимый режим устройства %q", ErrValidation, *mode)
	}

	d, err := s.repo.Touch(ctx, repository.DeviceTouch{
		DeviceID: deviceID,
		Status:   status,
		Mode:     mode,
		Now:      s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Контакт устройства",
		slog.String("device_id", d.DeviceID),
		slog.String("status", d.Status),
		slog.String("mode", d.Mode),
	)
	return d, nil
}

// IsOnline сообщает, доступно ли устройство сейчас.
func (s *DeviceService) IsOnline(d *model.Device) bool {
	return d.IsOnline(s.now(), s.window)
}

// Get возвращает устройство с вычисленной доступностью.
func (s *DeviceService) Get(ctx context.Context, deviceID string) (*DeviceView, error) {
	d, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: устройство %s", ErrNotFound, deviceID)
		}
		return nil, err
	}
	return &DeviceView{Device: d, Online: s.IsOnline(d)}, nil
}

// List возвращает все устройства по порядку device_id.
func (s *DeviceService) List(ctx context.Context) ([]DeviceView, error) {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		result = append(result, DeviceView{Device: d, Online: d.IsOnline(now, s.window)})
	}
	return result, nil
}

// SetActive включает или отключает устройство. Отключённое устройство
// продолжает опрашивать сервер, но новые команды ему не ставятся.
func (s *DeviceService) SetActive(ctx context.Context, deviceID string, active bool) (*DeviceView, error) {
	d, err := s.repo.SetActive(ctx, deviceID, active)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: устройство %s", ErrNotFound, deviceID)
		}
		return nil, err
	}

	s.logger.Info("Активность устройства изменена",
		slog.String("device_id", d.DeviceID),
		slog.Bool("is_active", d.IsActive),
	)
	return &DeviceView{Device: d, Online: s.IsOnline(d)}, nil
}

// RequireAvailable проверяет, что устройство может принять команду:
// существует, не отключено и на связи.
func (s *DeviceService) RequireAvailable(ctx context.Context, deviceID string) (*model.Device, error) {
	view, err := s.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !view.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrDeviceDisabled, deviceID)
	}
	if !view.Online {
		return nil, fmt.Errorf("%w: %s, последний контакт %s назад",
			ErrDeviceOffline, deviceID, s.now().Sub(view.LastSeen).Truncate(time.Second))
	}
	return view.Device, nil
}
