package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

func TestStudentCreate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	student := &model.Student{RollNo: 7, StudentName: "Ravi", ClassName: "6B"}
	parent := &model.ParentDetail{ParentName: "Meena", Contact: "+91-555-0100"}
	if err := env.students.Create(ctx, student, parent); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if parent.RollNo != 7 {
		t.Errorf("parent.RollNo = %d, ожидался 7", parent.RollNo)
	}
	if p := env.store.parents[7]; p == nil || p.ParentName != "Meena" {
		t.Errorf("контакт родителя = %+v", p)
	}

	err := env.students.Create(ctx, &model.Student{RollNo: 7, StudentName: "Dup"}, &model.ParentDetail{})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}
}

func TestStudentList_OrderedByRollNo(t *testing.T) {
	env := newTestEnv()
	env.store.addStudent(3, "C")
	env.store.addStudent(1, "A")
	env.store.addStudent(2, "B")

	list, err := env.students.List(context.Background())
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, ожидалось 3", len(list))
	}
	for i, s := range list {
		if s.RollNo != i+1 {
			t.Errorf("list[%d].RollNo = %d", i, s.RollNo)
		}
	}
}

func TestStudentDelete(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.enrollStudent(42, 5)
	env.cache.SetIfCurrent(5, env.store.student(42), env.cache.Generation(5))

	if err := env.students.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if env.store.student(42) != nil {
		t.Error("студент не удалён")
	}
	if _, ok := env.cache.Get(5); ok {
		t.Error("кэш слота 5 не сброшен")
	}

	if err := env.students.Delete(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}
