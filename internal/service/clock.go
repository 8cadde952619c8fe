package service

import "time"

// Clock — источник текущего времени. В тестах подменяется.
type Clock func() time.Time

// SystemClock возвращает текущее время в UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
