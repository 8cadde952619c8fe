// Пакет command — конечный автомат жизненного цикла команды устройства.
//
// Переходы:
//   - pending → in_progress (устройство забрало команду при poll)
//   - pending → expired (истёк срок доставки)
//   - in_progress → completed | failed (отчёт устройства)
//   - in_progress → in_progress (progress-пинг, меняется только message)
//   - in_progress → expired (зависла без обновлений дольше таймаута)
//
// completed, failed и expired — конечные состояния, переходов из них нет.
package command

import (
	"fmt"
)

// Status — статус команды.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Kind — тип команды.
type Kind string

const (
	// KindEnroll — записать отпечаток в слот сенсора
	KindEnroll Kind = "enroll"
	// KindDelete — удалить отпечаток из слота сенсора
	KindDelete Kind = "delete"
)

// Event — событие, меняющее статус команды.
type Event string

const (
	// EventPoll — устройство забрало команду
	EventPoll Event = "poll"
	// EventExpire — истёк срок доставки или выполнения
	EventExpire Event = "expire"
	// EventSuccess — устройство сообщило об успехе
	EventSuccess Event = "success"
	// EventError — устройство сообщило об ошибке
	EventError Event = "error"
	// EventProgress — промежуточный отчёт устройства
	EventProgress Event = "progress"
)

// Outcome — результат, который устройство передаёт в отчёте.
// Значения совпадают с полем status в POST /device/command/update.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeProgress Outcome = "in_progress"
)

// TimeoutMessage — сообщение, записываемое в просроченную команду.
const TimeoutMessage = "Command timeout"

// Event возвращает событие автомата, соответствующее отчёту устройства.
func (o Outcome) Event() Event {
	switch o {
	case OutcomeSuccess:
		return EventSuccess
	case OutcomeError:
		return EventError
	case OutcomeProgress:
		return EventProgress
	default:
		return ""
	}
}

// Next вычисляет статус после события. Для недопустимого перехода
// возвращает *TransitionError.
func Next(from Status, ev Event) (Status, error) {
	switch from {
	case StatusPending:
		switch ev {
		case EventPoll:
			return StatusInProgress, nil
		case EventExpire:
			return StatusExpired, nil
		case EventSuccess, EventError, EventProgress:
			return from, invalid(from, ev)
		}
	case StatusInProgress:
		switch ev {
		case EventSuccess:
			return StatusCompleted, nil
		case EventError:
			return StatusFailed, nil
		case EventProgress:
			return StatusInProgress, nil
		case EventExpire:
			return StatusExpired, nil
		case EventPoll:
			return from, invalid(from, ev)
		}
	case StatusCompleted, StatusFailed, StatusExpired:
		return from, &TransitionError{
			Code:    CodeTerminal,
			Message: fmt.Sprintf("команда уже в конечном статусе %s", from),
			From:    from,
			Event:   ev,
		}
	}
	return from, invalid(from, ev)
}

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTerminal          = "COMMAND_FINISHED"
)

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string
	Message string
	From    Status
	Event   Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(from Status, ev Event) *TransitionError {
	return &TransitionError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("событие %q недопустимо в статусе %s", ev, from),
		From:    from,
		Event:   ev,
	}
}

// ParseStatus преобразует строку из БД в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("недопустимый статус команды: %q", s)
}

// ParseKind преобразует строку в Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	switch k {
	case KindEnroll, KindDelete:
		return k, nil
	}
	return "", fmt.Errorf("недопустимый тип команды: %q, допустимые: enroll, delete", s)
}

// ParseOutcome преобразует поле status отчёта устройства в Outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	switch o {
	case OutcomeSuccess, OutcomeError, OutcomeProgress:
		return o, nil
	}
	return "", fmt.Errorf("недопустимый результат: %q, допустимые: success, error, in_progress", s)
}
