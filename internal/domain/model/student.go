package model

// Student — ученик с полями отпечатка.
// Хранится в таблице students.
type Student struct {
	RollNo         int
	StudentName    string
	ClassName      string
	IdentifierCode *string
	// FingerprintID — слот сенсора; nil, если отпечаток не записан
	FingerprintID *int
	// FingerprintEnrolled — отпечаток подтверждён устройством
	FingerprintEnrolled bool
}

// ParentDetail — контакт родителя (таблица parent_details, 1:1 со students).
type ParentDetail struct {
	RollNo     int
	ParentName string
	Contact    string
	Address    *string
}
