package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// AttendanceRepository — интерфейс записи сканирований
// (таблицы attendance_logs и daily_attendance).
type AttendanceRepository interface {
	// LogScan добавляет запись в журнал сканирований.
	LogScan(ctx context.Context, rollNo int, deviceID string, date, ts time.Time) error
	// MarkPresent отмечает студента присутствующим за дату.
	// Возвращает false, если отметка за эту дату уже существовала.
	MarkPresent(ctx context.Context, rollNo int, date time.Time) (bool, error)
	// MarkAbsent отмечает отсутствующими за дату всех студентов без отметки.
	// Возвращает количество добавленных отметок.
	MarkAbsent(ctx context.Context, date time.Time) (int64, error)
	// ListAbsent возвращает отсутствующих за дату с контактом родителя.
	// Пустой className — все классы.
	ListAbsent(ctx context.Context, date time.Time, className string) ([]*model.AbsentStudent, error)
}

type attendanceRepo struct {
	db DBTX
}

// NewAttendanceRepository создаёт репозиторий посещаемости.
func NewAttendanceRepository(db DBTX) AttendanceRepository {
	return &attendanceRepo{db: db}
}

func (r *attendanceRepo) LogScan(ctx context.Context, rollNo int, deviceID string, date, ts time.Time) error {
	query := `
		INSERT INTO attendance_logs (roll_no, device_id, attendance_date, timestamp)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, rollNo, deviceID, date, ts); err != nil {
		return fmt.Errorf("ошибка записи журнала сканирований: %w", err)
	}
	return nil
}

func (r *attendanceRepo) MarkPresent(ctx context.Context, rollNo int, date time.Time) (bool, error) {
	query := `
		INSERT INTO daily_attendance (roll_no, attendance_date, status)
		VALUES ($1, $2, 'P')
		ON CONFLICT (roll_no, attendance_date) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, rollNo, date)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки посещаемости: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *attendanceRepo) MarkAbsent(ctx context.Context, date time.Time) (int64, error) {
	query := `
		INSERT INTO daily_attendance (roll_no, attendance_date, status)
		SELECT s.roll_no, $1, 'A'
		FROM students s
		WHERE NOT EXISTS (
			SELECT 1 FROM daily_attendance d
			WHERE d.roll_no = s.roll_no AND d.attendance_date = $1
		)
		ON CONFLICT (roll_no, attendance_date) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, date)
	if err != nil {
		return 0, fmt.Errorf("ошибка закрытия дня посещаемости: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *attendanceRepo) ListAbsent(ctx context.Context, date time.Time, className string) ([]*model.AbsentStudent, error) {
	query := `
		SELECT s.roll_no, s.student_name, s.class, p.contact
		FROM students s
		JOIN parent_details p ON p.roll_no = s.roll_no
		JOIN daily_attendance d ON d.roll_no = s.roll_no
		WHERE d.attendance_date = $1 AND d.status = 'A'
		  AND ($2 = '' OR s.class = $2)
		ORDER BY s.roll_no`

	rows, err := r.db.Query(ctx, query, date, className)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отсутствующих: %w", err)
	}
	defer rows.Close()

	var result []*model.AbsentStudent
	for rows.Next() {
		a := &model.AbsentStudent{}
		if err := rows.Scan(&a.RollNo, &a.StudentName, &a.ClassName, &a.Contact); err != nil {
			return nil, fmt.Errorf("ошибка чтения отсутствующего: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации отсутствующих: %w", err)
	}
	return result, nil
}
