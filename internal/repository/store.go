package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repos — набор репозиториев, работающих через одно соединение:
// пул или открытую транзакцию.
type Repos struct {
	Devices    DeviceRepository
	Commands   CommandRepository
	Students   StudentRepository
	Attendance AttendanceRepository
}

// NewRepos создаёт набор репозиториев поверх db.
func NewRepos(db DBTX) Repos {
	return Repos{
		Devices:    NewDeviceRepository(db),
		Commands:   NewCommandRepository(db),
		Students:   NewStudentRepository(db),
		Attendance: NewAttendanceRepository(db),
	}
}

// Tx — репозитории, привязанные к транзакции.
type Tx interface {
	// Repos возвращает репозитории транзакции.
	Repos() Repos
	// Savepoint выполняет fn во вложенной транзакции: ошибка fn откатывает
	// только её изменения.
	Savepoint(ctx context.Context, fn func(r Repos) error) error
}

// Store — точка входа сервисного слоя в хранилище.
type Store interface {
	// Repos возвращает репозитории, работающие вне транзакции.
	Repos() Repos
	// RunInTx выполняет fn в транзакции; ошибка fn откатывает транзакцию.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

type pgStore struct {
	repos  Repos
	runner *TxRunner
}

// NewStore создаёт Store поверх пула PostgreSQL.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		repos:  NewRepos(pool),
		runner: NewTxRunner(pool),
	}
}

func (s *pgStore) Repos() Repos {
	return s.repos
}

func (s *pgStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, repos: NewRepos(tx)})
	})
}

type pgTx struct {
	tx    pgx.Tx
	repos Repos
}

func (t *pgTx) Repos() Repos {
	return t.repos
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(r Repos) error) error {
	return Savepoint(ctx, t.tx, func(sp pgx.Tx) error {
		return fn(NewRepos(sp))
	})
}
