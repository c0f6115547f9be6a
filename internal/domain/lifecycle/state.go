// Пакет lifecycle — конечный автомат жизненного цикла ресурса репозитория.
//
// Состояния: draft → awaiting_approval → published, плюс need_more_info.
// Переходы выполняются только действиями (StateAction), разрешёнными
// таблицей переходов текущего состояния. Прямых рёбер draft → published
// нет: движение к целевому состоянию идёт по шагам (Walk).
package lifecycle

import (
	"fmt"
	"time"
)

// State — состояние ресурса в репозитории.
type State string

const (
	// StateDraft — черновик, виден только владельцу
	StateDraft State = "draft"
	// StateAwaitingApproval — ожидает одобрения модератора
	StateAwaitingApproval State = "awaiting_approval"
	// StateNeedMoreInfo — модератор запросил дополнительную информацию
	StateNeedMoreInfo State = "need_more_info"
	// StatePublished — опубликован
	StatePublished State = "published"
)

// StateAction — действие, переводящее ресурс между состояниями.
type StateAction string

const (
	ActionPublish      StateAction = "publish"
	ActionApprove      StateAction = "approve"
	ActionCancel       StateAction = "cancel"
	ActionNeedMoreInfo StateAction = "need_more_info"
	ActionUnpublish    StateAction = "unpublish"
)

// MaxHops — максимальное число шагов при движении к целевому состоянию.
// Самый длинный путь в таблице — 3 шага (published → need_more_info).
const MaxHops = 10

// Коды ошибок переходов.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidState      = "INVALID_STATE"
	CodeTooManyHops       = "TOO_MANY_HOPS"
)

// nextActions — таблица переходов: текущее состояние → целевое → действие.
// Действие из таблицы — первый шаг на пути к цели, а не обязательно прямое ребро.
var nextActions = map[State]map[State]StateAction{
	StateDraft: {
		StateAwaitingApproval: ActionPublish,
		StateNeedMoreInfo:     ActionPublish,
		StatePublished:        ActionPublish,
	},
	StateAwaitingApproval: {
		StateDraft:        ActionCancel,
		StateNeedMoreInfo: ActionNeedMoreInfo,
		StatePublished:    ActionApprove,
	},
	StateNeedMoreInfo: {
		StateDraft:            ActionPublish,
		StateAwaitingApproval: ActionPublish,
		StatePublished:        ActionPublish,
	},
	StatePublished: {
		StateDraft:            ActionUnpublish,
		StateAwaitingApproval: ActionUnpublish,
		StateNeedMoreInfo:     ActionUnpublish,
	},
}

// actionResults — результат действия для каждого допустимого исходного состояния.
var actionResults = map[StateAction]map[State]State{
	ActionPublish: {
		StateDraft:        StateAwaitingApproval,
		StateNeedMoreInfo: StateAwaitingApproval,
	},
	ActionApprove: {
		StateAwaitingApproval: StatePublished,
	},
	ActionCancel: {
		StateAwaitingApproval: StateDraft,
	},
	ActionNeedMoreInfo: {
		StateAwaitingApproval: StateNeedMoreInfo,
	},
	ActionUnpublish: {
		StatePublished: StateDraft,
	},
}

// IsValid проверяет, что состояние входит в допустимый набор.
func (s State) IsValid() bool {
	_, ok := nextActions[s]
	return ok
}

// IsStateActionAllowed возвращает true, если действие встречается в строке
// таблицы переходов текущего состояния. Пустое действие не разрешено никогда.
func (s State) IsStateActionAllowed(action StateAction) bool {
	if action == "" {
		return false
	}
	for _, a := range nextActions[s] {
		if a == action {
			return true
		}
	}
	return false
}

// NextAction возвращает действие, необходимое для движения из s к target.
// Возвращает ("", false), если target совпадает с s или недостижимо.
func (s State) NextAction(target State) (StateAction, bool) {
	if s == target {
		return "", false
	}
	action, ok := nextActions[s][target]
	return action, ok
}

// IsValid проверяет, что действие входит в допустимый набор.
func (a StateAction) IsValid() bool {
	_, ok := actionResults[a]
	return ok
}

// Apply возвращает состояние, в которое действие переводит ресурс из from.
// Это единственное место, определяющее эффект действия; backend-реализации
// клиентов используют его при выполнении UpdateState.
func Apply(from State, action StateAction) (State, error) {
	if !from.IsStateActionAllowed(action) {
		return from, &TransitionError{
			Code:    CodeInvalidTransition,
			From:    from,
			Action:  action,
			Message: fmt.Sprintf("действие %q недопустимо в состоянии %q", action, from),
		}
	}
	return actionResults[action][from], nil
}

// ParseState преобразует строку в State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимое состояние: %q, допустимые: draft, awaiting_approval, need_more_info, published", s)
	}
	return st, nil
}

// ParseAction преобразует строку в StateAction.
func ParseAction(s string) (StateAction, error) {
	a := StateAction(s)
	if !a.IsValid() {
		return "", fmt.Errorf("недопустимое действие: %q, допустимые: publish, approve, cancel, need_more_info, unpublish", s)
	}
	return a, nil
}

// TransitionRecord — запись об одном выполненном шаге.
type TransitionRecord struct {
	From      State       `json:"from"`
	Action    StateAction `json:"action"`
	To        State       `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
}

// StepFunc выполняет действие над ресурсом и возвращает его новое состояние.
// Для ресурсов репозитория шаг — вызов backend и перечитывание состояния.
type StepFunc func(action StateAction, from State) (State, error)

// Walk проводит ресурс из from в target по таблице переходов, вызывая step
// для каждого шага. Каждое действие проверяется до вызова step: запрещённый
// шаг завершает движение ошибкой TransitionError без обращения к backend.
// Возвращает историю выполненных шагов (в том числе при ошибке).
func Walk(resourceID string, from, target State, step StepFunc) ([]TransitionRecord, error) {
	if !target.IsValid() {
		return nil, &TransitionError{
			Code:       CodeInvalidState,
			ResourceID: resourceID,
			From:       from,
			Target:     target,
			Message:    fmt.Sprintf("недопустимое целевое состояние: %q", target),
		}
	}

	var history []TransitionRecord
	current := from
	for hops := 0; current != target; hops++ {
		if hops >= MaxHops {
			return history, &TransitionError{
				Code:       CodeTooManyHops,
				ResourceID: resourceID,
				From:       current,
				Target:     target,
				Message: fmt.Sprintf("не удалось перейти в %q за %d шагов, ресурс остался в %q",
					target, MaxHops, current),
			}
		}

		action, ok := current.NextAction(target)
		if !ok || !current.IsStateActionAllowed(action) {
			return history, &TransitionError{
				Code:       CodeInvalidTransition,
				ResourceID: resourceID,
				From:       current,
				Action:     action,
				Target:     target,
				Message:    fmt.Sprintf("нет допустимого действия для перехода %q → %q", current, target),
			}
		}

		next, err := step(action, current)
		if err != nil {
			return history, err
		}
		history = append(history, TransitionRecord{
			From:      current,
			Action:    action,
			To:        next,
			Timestamp: time.Now().UTC(),
		})
		current = next
	}
	return history, nil
}

// Plan возвращает последовательность действий для перехода from → target
// без побочных эффектов (по локальной таблице Apply).
func Plan(from, target State) ([]StateAction, error) {
	history, err := Walk("", from, target, func(action StateAction, current State) (State, error) {
		return Apply(current, action)
	})
	if err != nil {
		return nil, err
	}
	actions := make([]StateAction, len(history))
	for i, rec := range history {
		actions[i] = rec.Action
	}
	return actions, nil
}

// TransitionError — ошибка жизненного цикла ресурса.
type TransitionError struct {
	Code       string      // Машиночитаемый код (INVALID_TRANSITION, INVALID_STATE, TOO_MANY_HOPS)
	ResourceID string      // Идентификатор ресурса (может быть пустым)
	From       State       // Состояние до попытки перехода
	Action     StateAction // Попытка действия (может быть пустой)
	Target     State       // Целевое состояние (для Walk)
	Message    string      // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s: ресурс %s: %s", e.Code, e.ResourceID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
