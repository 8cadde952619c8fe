// Точка входа Attendance Server — сервер учёта посещаемости по отпечаткам.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт сервисный слой и API handlers, запускает фоновые задачи
// (истечение команд, topologymetrics), опциональные MQTT-уведомления
// устройств и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/attendtrack/attendance-server/internal/api/handlers"
	"github.com/bigkaa/attendtrack/attendance-server/internal/config"
	"github.com/bigkaa/attendtrack/attendance-server/internal/database"
	"github.com/bigkaa/attendtrack/attendance-server/internal/notifier"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
	"github.com/bigkaa/attendtrack/attendance-server/internal/server"
	"github.com/bigkaa/attendtrack/attendance-server/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Attendance Server запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("AT_DEPHEALTH_GROUP") == "" {
		logger.Warn("AT_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище (репозитории + транзакции)
	store := repository.NewStore(pool)

	// 6. Services
	clock := service.SystemClock
	cache := service.NewFingerprintCache(cfg.FingerprintCacheSize, cfg.FingerprintCacheTTL)

	devicesSvc := service.NewDeviceService(store.Repos().Devices, cfg.DeviceOnlineWindow, clock, logger)
	commandsSvc := service.NewCommandService(
		store, devicesSvc, service.NewReconciler(cache, logger),
		cfg.CommandExpiry, cfg.CommandInProgressTimeout,
		clock, logger,
	)
	enrollmentSvc := service.NewEnrollmentService(store, devicesSvc, commandsSvc, logger)
	attendanceSvc := service.NewAttendanceService(store, devicesSvc, cache, clock, logger)
	studentsSvc := service.NewStudentService(store, cache, logger)

	// 7. MQTT-уведомления устройств (опционально, если задан AT_MQTT_BROKER_URL)
	var mqttNotifier *notifier.MQTT
	if cfg.MQTTEnabled() {
		mqttNotifier, err = notifier.Connect(notifier.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			// Устройства всё равно забирают команды через poll
			logger.Warn("MQTT недоступен, уведомления устройств отключены",
				slog.String("error", err.Error()),
			)
		} else {
			commandsSvc.SetNotifier(mqttNotifier)
			defer mqttNotifier.Close()
		}
	} else {
		logger.Info("MQTT-уведомления отключены (AT_MQTT_BROKER_URL не задан)")
	}

	// 8. Readiness checker и API handler
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)

	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		devicesSvc,
		commandsSvc,
		enrollmentSvc,
		attendanceSvc,
		studentsSvc,
		logger,
	)

	// 9. Запуск фоновых задач
	var sweeper *service.ExpirySweeper
	if cfg.ExpirySweepInterval > 0 {
		sweeper = service.NewExpirySweeper(commandsSvc, cfg.ExpirySweepInterval, logger)
		sweeper.Start(ctx)
	} else {
		logger.Info("Фоновое истечение команд отключено, только проверка при poll")
	}

	// 9.1 topologymetrics — мониторинг зависимостей (PostgreSQL)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"attendance-server",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			healthHandler.SetDependencyHealth(dephealthSvc)
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if sweeper != nil {
		sweeper.Stop()
	}

	logger.Info("Attendance Server остановлен")
}
