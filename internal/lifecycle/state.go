// internal/lifecycle/state.go
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle state of a catalog asset.
type State string

const (
	Available         State = "Available"
	Borrowed          State = "Borrowed"
	RestorationNeeded State = "Restoration Needed"
)

// ErrUnknownState is returned by ParseState for labels outside the state set.
var ErrUnknownState = errors.New("unknown lifecycle state")

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Available, Borrowed, RestorationNeeded:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ParseState maps a persisted or legacy status label to a State.
func ParseState(label string) (State, error) {
	switch strings.TrimSpace(label) {
	case "Available":
		return Available, nil
	case "Borrowed":
		return Borrowed, nil
	case "Restoration Needed", "RestorationNeeded":
		return RestorationNeeded, nil
	}
	return Available, fmt.Errorf("%w: %q", ErrUnknownState, label)
}

// Operation is a request to move an asset between states.
type Operation string

const (
	Borrow             Operation = "borrow"
	Return             Operation = "return"
	FlagForRestoration Operation = "flag_for_restoration"
	Restore            Operation = "restore"
)

type edge struct {
	from State
	op   Operation
}

// transitions is the complete set of legal moves. Anything missing is illegal.
var transitions = map[edge]State{
	{Available, Borrow}:             Borrowed,
	{Borrowed, Return}:              Available,
	{Available, FlagForRestoration}: RestorationNeeded,
	{Borrowed, FlagForRestoration}:  RestorationNeeded,
	{RestorationNeeded, Restore}:    Available,
}

// IllegalTransitionError reports an operation that is not allowed from a state.
type IllegalTransitionError struct {
	From      State
	Operation Operation
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: cannot %s from %q", e.Operation, e.From)
}

// Transition returns the state reached by applying op in state from.
func Transition(from State, op Operation) (State, error) {
	to, ok := transitions[edge{from, op}]
	if !ok {
		return from, &IllegalTransitionError{From: from, Operation: op}
	}
	return to, nil
}

// Allowed lists the operations legal from a state, in table order.
func Allowed(from State) []Operation {
	var ops []Operation
	for _, op := range []Operation{Borrow, Return, FlagForRestoration, Restore} {
		if _, ok := transitions[edge{from, op}]; ok {
			ops = append(ops, op)
		}
	}
	return ops
}
