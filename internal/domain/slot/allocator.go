// Пакет slot — выбор свободного слота отпечатка на сенсоре устройства.
package slot

import "errors"

// Границы диапазона слотов сенсора (включительно).
const (
	MinID = 1
	MaxID = 127
)

// ErrExhausted — все слоты 1..127 заняты.
var ErrExhausted = errors.New("все слоты отпечатков заняты")

// AllocateNext возвращает наименьший слот из 1..127, которого нет в used.
// used — слоты, занятые записанными студентами и активными enroll-командами.
// Значения вне диапазона игнорируются.
func AllocateNext(used []int) (int, error) {
	var taken [MaxID + 1]bool
	for _, id := range used {
		if Valid(id) {
			taken[id] = true
		}
	}
	for id := MinID; id <= MaxID; id++ {
		if !taken[id] {
			return id, nil
		}
	}
	return 0, ErrExhausted
}

// Valid сообщает, лежит ли id в диапазоне слотов сенсора.
func Valid(id int) bool {
	return id >= MinID && id <= MaxID
}
