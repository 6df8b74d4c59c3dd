package services

import (
	"testing"

	"stockipv/server/internal/models"
)

const (
	draft     = models.MoveDraft
	waiting   = models.MoveWaiting
	confirmed = models.MoveConfirmed
	partial   = models.MovePartiallyAvailable
	assigned  = models.MoveAssigned
	done      = models.MoveDone
	cancel    = models.MoveCancel
)

func states(s ...models.MoveState) []models.MoveState { return s }

func TestRelevantMoveState(t *testing.T) {
	cases := []struct {
		name string
		in   []models.MoveState
		want models.MoveState
	}{
		{"only terminal", states(done, cancel), draft},
		{"all assigned", states(assigned, assigned), assigned},
		{"all confirmed", states(confirmed, confirmed), confirmed},
		{"mixed reservation", states(confirmed, assigned), partial},
		{"partial with confirmed", states(partial, confirmed), partial},
		{"waiting beats confirmed", states(waiting, confirmed), waiting},
		{"terminal ignored", states(done, assigned), assigned},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RelevantMoveState(tc.in); got != tc.want {
				t.Errorf("RelevantMoveState(%v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestAggregateMoveStates(t *testing.T) {
	cases := []struct {
		name string
		in   []models.MoveState
		want models.MoveState
	}{
		{"no moves", nil, draft},
		{"any draft", states(assigned, draft), draft},
		{"all cancel", states(cancel, cancel), cancel},
		{"done and cancel", states(done, cancel), done},
		{"partially available reads as assigned", states(partial), assigned},
		{"confirmed and assigned", states(confirmed, assigned), assigned},
		{"confirmed", states(confirmed, done), confirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AggregateMoveStates(tc.in); got != tc.want {
				t.Errorf("AggregateMoveStates(%v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestAggregateLineStates(t *testing.T) {
	cases := []struct {
		name string
		in   []models.MoveState
		want models.IPVState
	}{
		{"no lines", nil, models.IPVDraft},
		{"any draft line", states(done, draft), models.IPVDraft},
		{"all cancel", states(cancel), models.IPVCancel},
		{"all done", states(done, done), models.IPVOpen},
		{"done and cancel", states(done, cancel), models.IPVOpen},
		{"assigned", states(assigned, done), models.IPVAssign},
		{"confirmed", states(confirmed, assigned), models.IPVAssign},
		{"waiting", states(confirmed, waiting), models.IPVCheck},
		{"only confirmed", states(confirmed), models.IPVCheck},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AggregateLineStates(tc.in); got != tc.want {
				t.Errorf("AggregateLineStates(%v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

// Смена открыта тогда и только тогда, когда все строки выполнены или отменены
// и хотя бы одна выполнена
func TestOpenIffAllTerminalWithDone(t *testing.T) {
	all := []models.MoveState{draft, waiting, confirmed, assigned, done, cancel}
	for _, a := range all {
		for _, b := range all {
			in := states(a, b)
			terminal := a.IsTerminal() && b.IsTerminal()
			hasDone := a == done || b == done
			open := AggregateLineStates(in) == models.IPVOpen
			if open != (terminal && hasDone) {
				t.Errorf("AggregateLineStates(%v) open = %v, want %v", in, open, terminal && hasDone)
			}
		}
	}
}
