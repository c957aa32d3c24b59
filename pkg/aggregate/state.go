package aggregate

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle position of an Aggregator.
type State uint8

const (
	Idle State = iota
	Streaming
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}

// ErrState is matched by every *StateError.
var ErrState = errors.New("invalid aggregator state")

// StateError reports use of an Aggregator outside the state an operation
// needs: Fold or Finalize after Finalize, or Finalize before Start.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("aggregate: %s called in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrState
}

// AveragePolicy selects the divisor of the per-product monthly average.
type AveragePolicy uint8

const (
	// ActiveMonths divides by the months in which the product sold.
	ActiveMonths AveragePolicy = iota
	// CalendarSpan divides by every month from the dataset's first to its
	// last, inclusive.
	CalendarSpan
)

// ParseAveragePolicy parses "active-months" or "calendar-span".
func ParseAveragePolicy(s string) (AveragePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "active-months", "active_months":
		return ActiveMonths, nil
	case "calendar-span", "calendar_span":
		return CalendarSpan, nil
	}
	return ActiveMonths, fmt.Errorf("unknown average policy %q (want active-months or calendar-span)", s)
}

func (p AveragePolicy) String() string {
	if p == CalendarSpan {
		return "calendar-span"
	}
	return "active-months"
}

// MarshalText implements encoding.TextMarshaler.
func (p AveragePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
