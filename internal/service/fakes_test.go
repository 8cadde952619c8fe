package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/command"
	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
	"github.com/bigkaa/attendtrack/attendance-server/internal/repository"
)

// --- Часы ---

// fakeClock — управляемые часы для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- In-memory хранилище ---

// memStore — реализация repository.Store в памяти. Каждая операция
// атомарна под mu; RunInTx сериализует транзакции через txMu, откат не
// поддерживается.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	devices  map[string]*model.Device
	students map[int]*model.Student
	parents  map[int]*model.ParentDetail
	commands map[int64]*model.Command
	nextID   int64
	scans    int
	present  map[string]bool
	absent   map[string]bool

	// afterFingerprintRead вызывается после чтения студента по слоту
	afterFingerprintRead func()

	// setFingerprintErr — ошибка, которую вернёт SetFingerprint
	setFingerprintErr error
}

func newMemStore() *memStore {
	return &memStore{
		devices:  make(map[string]*model.Device),
		students: make(map[int]*model.Student),
		parents:  make(map[int]*model.ParentDetail),
		commands: make(map[int64]*model.Command),
		present:  make(map[string]bool),
		absent:   make(map[string]bool),
	}
}

func (m *memStore) Repos() repository.Repos {
	return repository.Repos{
		Devices:    memDevices{m},
		Commands:   memCommands{m},
		Students:   memStudents{m},
		Attendance: memAttendance{m},
	}
}

func (m *memStore) RunInTx(_ context.Context, fn func(tx repository.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(memTx{m})
}

type memTx struct{ m *memStore }

func (t memTx) Repos() repository.Repos { return t.m.Repos() }

func (t memTx) Savepoint(_ context.Context, fn func(r repository.Repos) error) error {
	return fn(t.m.Repos())
}

// addStudent — вспомогательная вставка студента в тестах.
func (m *memStore) addStudent(rollNo int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[rollNo] = &model.Student{RollNo: rollNo, StudentName: name, ClassName: "5A"}
}

// enrollStudent — студент с уже записанным отпечатком.
func (m *memStore) enrollStudent(rollNo, fingerprintID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fingerprintID
	m.students[rollNo] = &model.Student{
		RollNo: rollNo, StudentName: fmt.Sprintf("Student %d", rollNo), ClassName: "5A",
		FingerprintID: &id, FingerprintEnrolled: true,
	}
}

func (m *memStore) command(id int64) *model.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyCommand(m.commands[id])
}

func (m *memStore) student(rollNo int) *model.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyStudent(m.students[rollNo])
}

func (m *memStore) commandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

func copyCommand(c *model.Command) *model.Command {
	if c == nil {
		return nil
	}
	cp := *c
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyStudent(s *model.Student) *model.Student {
	if s == nil {
		return nil
	}
	cp := *s
	if s.FingerprintID != nil {
		id := *s.FingerprintID
		cp.FingerprintID = &id
	}
	return &cp
}

// --- Устройства ---

type memDevices struct{ m *memStore }

func (r memDevices) Touch(_ context.Context, t repository.DeviceTouch) (*model.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	status := model.DeviceStatusOnline
	if t.Status != nil {
		status = *t.Status
	}
	d, ok := r.m.devices[t.DeviceID]
	if !ok {
		d = &model.Device{
			DeviceID: t.DeviceID, Name: t.DeviceID, Mode: model.DeviceModeScanning,
			IsActive: true, CreatedAt: t.Now,
		}
		r.m.devices[t.DeviceID] = d
	}
	d.Status = status
	d.LastSeen = t.Now
	if t.Mode != nil {
		d.Mode = *t.Mode
	}
	cp := *d
	return &cp, nil
}

func (r memDevices) GetByID(_ context.Context, deviceID string) (*model.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r memDevices) List(_ context.Context) ([]*model.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*model.Device
	for _, d := range r.m.devices {
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceID < result[j].DeviceID })
	return result, nil
}

func (r memDevices) SetActive(_ context.Context, deviceID string, active bool) (*model.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	d.IsActive = active
	cp := *d
	return &cp, nil
}

// --- Команды ---

type memCommands struct{ m *memStore }

func (r memCommands) Create(_ context.Context, c *model.Command) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.devices[c.DeviceID]; !ok {
		return fmt.Errorf("%w: устройство %s", repository.ErrNotFound, c.DeviceID)
	}
	if _, ok := r.m.students[c.RollNo]; !ok {
		return fmt.Errorf("%w: студент %d", repository.ErrNotFound, c.RollNo)
	}
	if c.Kind == command.KindEnroll {
		for _, other := range r.m.commands {
			if other.Kind == command.KindEnroll && liveStatus(other.Status) &&
				(other.FingerprintID == c.FingerprintID || other.RollNo == c.RollNo) {
				return fmt.Errorf("%w: слот %d", repository.ErrConflict, c.FingerprintID)
			}
		}
	}

	r.m.nextID++
	c.ID = r.m.nextID
	c.UpdatedAt = c.CreatedAt
	r.m.commands[c.ID] = copyCommand(c)
	return nil
}

func (r memCommands) ClaimNext(_ context.Context, deviceID string, now, expiredBefore time.Time) (*model.Command, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var oldest *model.Command
	for _, c := range r.m.commands {
		if c.DeviceID != deviceID || c.Status != command.StatusPending {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) ||
			(c.CreatedAt.Equal(oldest.CreatedAt) && c.ID < oldest.ID) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, repository.ErrNotFound
	}

	if oldest.CreatedAt.Before(expiredBefore) {
		oldest.Status = command.StatusExpired
		oldest.Message = command.TimeoutMessage
	} else {
		oldest.Status = command.StatusInProgress
	}
	oldest.UpdatedAt = now
	return copyCommand(oldest), nil
}

func (r memCommands) GetByID(_ context.Context, id int64) (*model.Command, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.commands[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCommand(c), nil
}

func (r memCommands) GetForUpdate(ctx context.Context, id int64) (*model.Command, error) {
	return r.GetByID(ctx, id)
}

func (r memCommands) Update(_ context.Context, c *model.Command) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.commands[c.ID]; !ok {
		return repository.ErrNotFound
	}
	r.m.commands[c.ID] = copyCommand(c)
	return nil
}

func (r memCommands) ReservedSlots(_ context.Context) ([]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var slots []int
	for _, c := range r.m.commands {
		if c.Kind == command.KindEnroll && liveStatus(c.Status) {
			slots = append(slots, c.FingerprintID)
		}
	}
	return slots, nil
}

func (r memCommands) HasLiveEnroll(_ context.Context, rollNo int) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.commands {
		if c.RollNo == rollNo && c.Kind == command.KindEnroll && liveStatus(c.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (r memCommands) expire(status command.Status, stale func(c *model.Command) bool, now time.Time) int64 {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.commands {
		if c.Status == status && stale(c) {
			c.Status = command.StatusExpired
			c.Message = command.TimeoutMessage
			c.UpdatedAt = now
			n++
		}
	}
	return n
}

func (r memCommands) ExpirePending(_ context.Context, before, now time.Time) (int64, error) {
	return r.expire(command.StatusPending, func(c *model.Command) bool { return c.CreatedAt.Before(before) }, now), nil
}

func (r memCommands) ExpireInProgress(_ context.Context, before, now time.Time) (int64, error) {
	return r.expire(command.StatusInProgress, func(c *model.Command) bool { return c.UpdatedAt.Before(before) }, now), nil
}

func (r memCommands) ListByDevice(_ context.Context, deviceID string, limit int) ([]*model.Command, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*model.Command
	for _, c := range r.m.commands {
		if c.DeviceID == deviceID {
			result = append(result, copyCommand(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Студенты ---

type memStudents struct{ m *memStore }

func (r memStudents) Create(_ context.Context, s *model.Student) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.students[s.RollNo]; ok {
		return fmt.Errorf("%w: roll_no %d", repository.ErrConflict, s.RollNo)
	}
	r.m.students[s.RollNo] = copyStudent(s)
	return nil
}

func (r memStudents) CreateParent(_ context.Context, p *model.ParentDetail) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.students[p.RollNo]; !ok {
		return repository.ErrNotFound
	}
	cp := *p
	r.m.parents[p.RollNo] = &cp
	return nil
}

func (r memStudents) GetByRollNo(_ context.Context, rollNo int) (*model.Student, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.students[rollNo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyStudent(s), nil
}

func (r memStudents) GetByFingerprint(_ context.Context, fingerprintID int) (*model.Student, error) {
	student, err := r.findByFingerprint(fingerprintID)
	if hook := r.m.afterFingerprintRead; hook != nil {
		hook()
	}
	return student, err
}

func (r memStudents) findByFingerprint(fingerprintID int) (*model.Student, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.students {
		if s.FingerprintEnrolled && s.FingerprintID != nil && *s.FingerprintID == fingerprintID {
			return copyStudent(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memStudents) List(_ context.Context) ([]*model.Student, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*model.Student
	for _, s := range r.m.students {
		result = append(result, copyStudent(s))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RollNo < result[j].RollNo })
	return result, nil
}

func (r memStudents) Delete(_ context.Context, rollNo int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.students[rollNo]; !ok {
		return repository.ErrNotFound
	}
	delete(r.m.students, rollNo)
	delete(r.m.parents, rollNo)
	for id, c := range r.m.commands {
		if c.RollNo == rollNo {
			delete(r.m.commands, id)
		}
	}
	return nil
}

func (r memStudents) EnrolledSlots(_ context.Context) ([]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var slots []int
	for _, s := range r.m.students {
		if s.FingerprintID != nil {
			slots = append(slots, *s.FingerprintID)
		}
	}
	return slots, nil
}

func (r memStudents) SetFingerprint(_ context.Context, rollNo, fingerprintID int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.setFingerprintErr != nil {
		return r.m.setFingerprintErr
	}
	s, ok := r.m.students[rollNo]
	if !ok {
		return repository.ErrNotFound
	}
	for _, other := range r.m.students {
		if other.RollNo != rollNo && other.FingerprintID != nil && *other.FingerprintID == fingerprintID {
			return repository.ErrConflict
		}
	}
	id := fingerprintID
	s.FingerprintID = &id
	s.FingerprintEnrolled = true
	return nil
}

func (r memStudents) ClearFingerprint(_ context.Context, rollNo int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.students[rollNo]
	if !ok {
		return repository.ErrNotFound
	}
	s.FingerprintID = nil
	s.FingerprintEnrolled = false
	return nil
}

// --- Посещаемость ---

type memAttendance struct{ m *memStore }

func (r memAttendance) LogScan(_ context.Context, _ int, _ string, _, _ time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.scans++
	return nil
}

func (r memAttendance) MarkPresent(_ context.Context, rollNo int, date time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := fmt.Sprintf("%d|%s", rollNo, date.Format(time.DateOnly))
	if r.m.present[key] {
		return false, nil
	}
	r.m.present[key] = true
	return true, nil
}

func (r memAttendance) MarkAbsent(_ context.Context, date time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	day := date.Format(time.DateOnly)
	var n int64
	for rollNo := range r.m.students {
		key := fmt.Sprintf("%d|%s", rollNo, day)
		if r.m.present[key] || r.m.absent[key] {
			continue
		}
		r.m.absent[key] = true
		n++
	}
	return n, nil
}

func (r memAttendance) ListAbsent(_ context.Context, date time.Time, className string) ([]*model.AbsentStudent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	day := date.Format(time.DateOnly)
	var result []*model.AbsentStudent
	for rollNo, s := range r.m.students {
		if !r.m.absent[fmt.Sprintf("%d|%s", rollNo, day)] {
			continue
		}
		if className != "" && s.ClassName != className {
			continue
		}
		p, ok := r.m.parents[rollNo]
		if !ok {
			continue
		}
		result = append(result, &model.AbsentStudent{
			RollNo: rollNo, StudentName: s.StudentName, ClassName: s.ClassName, Contact: p.Contact,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RollNo < result[j].RollNo })
	return result, nil
}

// --- Сборка сервисов ---

// testEnv — сервисы поверх memStore и управляемых часов.
type testEnv struct {
	store      *memStore
	clock      *fakeClock
	cache      *FingerprintCache
	devices    *DeviceService
	commands   *CommandService
	enrollment *EnrollmentService
	attendance *AttendanceService
	students   *StudentService
}

func newTestEnv() *testEnv {
	store := newMemStore()
	clock := newFakeClock()
	logger := testLogger()
	cache := NewFingerprintCache(16, time.Minute)

	devices := NewDeviceService(store.Devices(), 60*time.Second, clock.Now, logger)
	commands := NewCommandService(store, devices, NewReconciler(cache, logger),
		300*time.Second, 10*time.Minute, clock.Now, logger)

	return &testEnv{
		store:      store,
		clock:      clock,
		cache:      cache,
		devices:    devices,
		commands:   commands,
		enrollment: NewEnrollmentService(store, devices, commands, logger),
		attendance: NewAttendanceService(store, devices, cache, clock.Now, logger),
		students:   NewStudentService(store, cache, logger),
	}
}

// Devices — репозиторий устройств memStore.
func (m *memStore) Devices() repository.DeviceRepository {
	return memDevices{m}
}

// recordingNotifier запоминает уведомления о командах.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *recordingNotifier) CommandQueued(_ context.Context, c *model.Command) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, c.ID)
}

func liveStatus(st command.Status) bool {
	return st == command.StatusPending || st == command.StatusInProgress
}
