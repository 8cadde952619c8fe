package model

import "time"

// AttendanceMark — результат регистрации сканирования отпечатка.
type AttendanceMark struct {
	RollNo      int
	StudentName string
	DeviceID    string
	Date        time.Time
	Timestamp   time.Time
	// AlreadyMarked — посещаемость за этот день уже была записана ранее
	AlreadyMarked bool
}

// AbsentStudent — студент, отмеченный отсутствующим, с контактом родителя.
type AbsentStudent struct {
	RollNo      int
	StudentName string
	ClassName   string
	Contact     string
}
