// sweeper.go — фоновое истечение сроков команд.
//
// Дополняет ленивую проверку при poll: pending-команды устройства, которое
// перестало опрашивать сервер, и in_progress-команды, зависшие на устройстве,
// переводятся в expired по тикеру (AT_EXPIRY_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики фонового истечения.
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_expiry_sweep_runs_total",
		Help: "Общее количество проходов фонового истечения команд.",
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_expiry_sweep_errors_total",
		Help: "Общее количество проходов, завершившихся ошибкой.",
	})

	sweepExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_expiry_sweep_expired_total",
		Help: "Команды, переведённые в expired фоновым проходом, по исходному статусу.",
	}, []string{"from"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_expiry_sweep_duration_seconds",
		Help:    "Длительность прохода фонового истечения в секундах.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// expirer — источник операции истечения (CommandService).
type expirer interface {
	ExpireStale(ctx context.Context) (ExpiryResult, error)
}

// ExpirySweeper — периодический проход истечения сроков команд.
type ExpirySweeper struct {
	commands expirer
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExpirySweeper создаёт фоновый проход истечения.
func NewExpirySweeper(commands *CommandService, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return newExpirySweeper(commands, interval, logger)
}

func newExpirySweeper(commands expirer, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		commands: commands,
		interval: interval,
		logger:   logger.With(slog.String("component", "expiry_sweeper")),
	}
}

// Start запускает фоновую горутину. Вызывается один раз при старте.
func (s *ExpirySweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Фоновое истечение команд запущено",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (s *ExpirySweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Фоновое истечение команд остановлено")
}

func (s *ExpirySweeper) run(ctx context.Context) {
	defer close(s.done)

	// Первый проход — сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход. Потокобезопасен.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (ExpiryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result, err := s.commands.ExpireStale(ctx)
	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		sweepErrorsTotal.Inc()
		if ctx.Err() == nil {
			s.logger.Error("Ошибка фонового истечения команд", slog.String("error", err.Error()))
		}
		return result, err
	}

	sweepExpiredTotal.WithLabelValues("pending").Add(float64(result.Pending))
	sweepExpiredTotal.WithLabelValues("in_progress").Add(float64(result.InProgress))

	if result.Pending+result.InProgress > 0 {
		s.logger.Info("Команды переведены в expired",
			slog.Int64("pending", result.Pending),
			slog.Int64("in_progress", result.InProgress),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return result, nil
}
