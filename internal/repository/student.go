package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// StudentRepository — интерфейс доступа к таблицам students и parent_details.
type StudentRepository interface {
	// Create создаёт студента. ErrConflict — roll_no или identifier_code заняты.
	Create(ctx context.Context, s *model.Student) error
	// CreateParent создаёт контакт родителя для существующего студента.
	CreateParent(ctx context.Context, p *model.ParentDetail) error
	// GetByRollNo возвращает студента по номеру.
	GetByRollNo(ctx context.Context, rollNo int) (*model.Student, error)
	// GetByFingerprint возвращает студента с подтверждённым отпечатком в слоте.
	GetByFingerprint(ctx context.Context, fingerprintID int) (*model.Student, error)
	// List возвращает всех студентов, упорядоченных по roll_no.
	List(ctx context.Context) ([]*model.Student, error)
	// Delete удаляет студента вместе с зависимыми записями.
	Delete(ctx context.Context, rollNo int) error
	// EnrolledSlots возвращает слоты, закреплённые за студентами.
	EnrolledSlots(ctx context.Context) ([]int, error)
	// SetFingerprint закрепляет слот за студентом и отмечает отпечаток записанным.
	SetFingerprint(ctx context.Context, rollNo, fingerprintID int) error
	// ClearFingerprint освобождает слот студента.
	ClearFingerprint(ctx context.Context, rollNo int) error
}

type studentRepo struct {
	db DBTX
}

// NewStudentRepository создаёт репозиторий студентов.
func NewStudentRepository(db DBTX) StudentRepository {
	return &studentRepo{db: db}
}

const studentColumns = `roll_no, student_name, class, identifier_code, fingerprint_id, fingerprint_enrolled`

func scanStudent(row pgx.Row) (*model.Student, error) {
	s := &model.Student{}
	err := row.Scan(&s.RollNo, &s.StudentName, &s.ClassName, &s.IdentifierCode,
		&s.FingerprintID, &s.FingerprintEnrolled)
	return s, err
}

func (r *studentRepo) Create(ctx context.Context, s *model.Student) error {
	query := `
		INSERT INTO students (roll_no, student_name, class, identifier_code)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, s.RollNo, s.StudentName, s.ClassName, s.IdentifierCode); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: roll_no %d или identifier_code уже используются", ErrConflict, s.RollNo)
		}
		return fmt.Errorf("ошибка создания студента: %w", err)
	}
	return nil
}

func (r *studentRepo) CreateParent(ctx context.Context, p *model.ParentDetail) error {
	query := `
		INSERT INTO parent_details (roll_no, parent_name, contact, address)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, p.RollNo, p.ParentName, p.Contact, p.Address); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: контакт родителя для %d уже существует", ErrConflict, p.RollNo)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: студент %d", ErrNotFound, p.RollNo)
		}
		return fmt.Errorf("ошибка создания контакта родителя: %w", err)
	}
	return nil
}

func (r *studentRepo) GetByRollNo(ctx context.Context, rollNo int) (*model.Student, error) {
	return r.get(ctx, `SELECT `+studentColumns+` FROM students WHERE roll_no = $1`, rollNo)
}

func (r *studentRepo) GetByFingerprint(ctx context.Context, fingerprintID int) (*model.Student, error) {
	return r.get(ctx,
		`SELECT `+studentColumns+` FROM students WHERE fingerprint_id = $1 AND fingerprint_enrolled`,
		fingerprintID)
}

func (r *studentRepo) get(ctx context.Context, query string, arg int) (*model.Student, error) {
	s, err := scanStudent(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения студента: %w", err)
	}
	return s, nil
}

func (r *studentRepo) List(ctx context.Context) ([]*model.Student, error) {
	rows, err := r.db.Query(ctx, `SELECT `+studentColumns+` FROM students ORDER BY roll_no`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка студентов: %w", err)
	}
	defer rows.Close()

	var result []*model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования студента: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *studentRepo) Delete(ctx context.Context, rollNo int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM students WHERE roll_no = $1`, rollNo)
	if err != nil {
		return fmt.Errorf("ошибка удаления студента: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *studentRepo) EnrolledSlots(ctx context.Context) ([]int, error) {
	rows, err := r.db.Query(ctx, `SELECT fingerprint_id FROM students WHERE fingerprint_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения занятых слотов: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *studentRepo) SetFingerprint(ctx context.Context, rollNo, fingerprintID int) error {
	query := `
		UPDATE students
		SET fingerprint_id = $2, fingerprint_enrolled = TRUE
		WHERE roll_no = $1`

	tag, err := r.db.Exec(ctx, query, rollNo, fingerprintID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: слот %d закреплён за другим студентом", ErrConflict, fingerprintID)
		}
		return fmt.Errorf("ошибка записи отпечатка студента %d: %w", rollNo, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *studentRepo) ClearFingerprint(ctx context.Context, rollNo int) error {
	query := `
		UPDATE students
		SET fingerprint_id = NULL, fingerprint_enrolled = FALSE
		WHERE roll_no = $1`

	tag, err := r.db.Exec(ctx, query, rollNo)
	if err != nil {
		return fmt.Errorf("ошибка удаления отпечатка студента %d: %w", rollNo, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
