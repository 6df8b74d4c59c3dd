package services

import (
	"sort"

	"stockipv/server/internal/models"
)

// Порядок важности незавершенных статусов (политика "как можно скорее")
var moveStateRank = map[models.MoveState]int{
	models.MoveAssigned:           4,
	models.MoveWaiting:            3,
	models.MovePartiallyAvailable: 2,
	models.MoveConfirmed:          1,
}

// RelevantMoveState самый значимый статус среди незавершенных перемещений.
// Если самое "слабое" перемещение не зарезервировано, а часть уже
// зарезервирована - partially_available. Нет незавершенных - draft.
func RelevantMoveState(states []models.MoveState) models.MoveState {
	var todo []models.MoveState
	for _, st := range states {
		if !st.IsTerminal() {
			todo = append(todo, st)
		}
	}
	if len(todo) == 0 {
		return models.MoveDraft
	}
	sort.SliceStable(todo, func(i, j int) bool { return moveStateRank[todo[i]] < moveStateRank[todo[j]] })

	if todo[0] != models.MoveAssigned {
		for _, st := range todo {
			if st == models.MoveAssigned || st == models.MovePartiallyAvailable {
				return models.MovePartiallyAvailable
			}
		}
	}
	return todo[len(todo)-1]
}

// AggregateMoveStates статус строки (или документа) по статусам ее перемещений:
// нет перемещений или есть черновик - draft; все отменены - cancel;
// все завершены - done; иначе самый значимый, partially_available -> assigned.
func AggregateMoveStates(states []models.MoveState) models.MoveState {
	return aggregateStates(states, states)
}

// AggregateChildStates статус строки готового продукта по строкам сырья.
// moveStates - перемещения всех строк сырья (для выбора значимого статуса).
func AggregateChildStates(children, moveStates []models.MoveState) models.MoveState {
	return aggregateStates(children, moveStates)
}

func aggregateStates(states, relevant []models.MoveState) models.MoveState {
	if len(states) == 0 {
		return models.MoveDraft
	}
	allCancel, allTerminal := true, true
	for _, st := range states {
		if st == models.MoveDraft {
			return models.MoveDraft
		}
		if st != models.MoveCancel {
			allCancel = false
		}
		if !st.IsTerminal() {
			allTerminal = false
		}
	}
	switch {
	case allCancel:
		return models.MoveCancel
	case allTerminal:
		return models.MoveDone
	}
	if rel := RelevantMoveState(relevant); rel != models.MovePartiallyAvailable {
		return rel
	}
	return models.MoveAssigned
}

// AggregateLineStates статус смены по статусам строк:
// нет строк или есть черновик - draft; все отменены - cancel;
// все выполнены/отменены - open; иначе assign, если самый значимый статус
// "зарезервировано", и check в остальных случаях.
func AggregateLineStates(lines []models.MoveState) models.IPVState {
	if len(lines) == 0 {
		return models.IPVDraft
	}
	allCancel, allTerminal := true, true
	for _, st := range lines {
		if st == models.MoveDraft {
			return models.IPVDraft
		}
		if st != models.MoveCancel {
			allCancel = false
		}
		if !st.IsTerminal() {
			allTerminal = false
		}
	}
	switch {
	case allCancel:
		return models.IPVCancel
	case allTerminal:
		return models.IPVOpen
	}
	switch RelevantMoveState(lines) {
	case models.MoveAssigned, models.MovePartiallyAvailable:
		return models.IPVAssign
	}
	return models.IPVCheck
}
