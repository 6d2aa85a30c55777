package domain

import (
	"fmt"
	"strings"
)

// Status is the canonical delivery status shared by every vendor.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusUnknown Status = "UNKNOWN"

	// Shared by both families.
	StatusQueued Status = "QUEUED"
	StatusFailed Status = "FAILED"

	// Call family.
	StatusRinging    Status = "RINGING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusBusy       Status = "BUSY"
	StatusNoAnswer   Status = "NO_ANSWER"
	StatusCanceled   Status = "CANCELED"

	// SMS family.
	StatusAccepted    Status = "ACCEPTED"
	StatusSending     Status = "SENDING"
	StatusSent        Status = "SENT"
	StatusDelivered   Status = "DELIVERED"
	StatusUndelivered Status = "UNDELIVERED"
	StatusReceiving   Status = "RECEIVING"
	StatusReceived    Status = "RECEIVED"
	StatusRead        Status = "READ"
)

func (s Status) String() string { return string(s) }

// Lifecycle is the status graph of one record kind.
type Lifecycle struct {
	edges     map[Status][]Status
	terminal  map[Status]struct{}
	reachable map[Status]map[Status]struct{}
}

var (
	callLifecycle = newLifecycle(
		map[Status][]Status{
			StatusCreated:    {StatusQueued},
			StatusQueued:     {StatusRinging},
			StatusRinging:    {StatusInProgress},
			StatusInProgress: {StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled},
		},
		[]Status{StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled},
	)

	smsLifecycle = newLifecycle(
		map[Status][]Status{
			StatusCreated:   {StatusAccepted, StatusReceiving},
			StatusAccepted:  {StatusQueued},
			StatusQueued:    {StatusSending},
			StatusSending:   {StatusSent},
			StatusSent:      {StatusDelivered, StatusUndelivered, StatusFailed},
			StatusReceiving: {StatusReceived},
			StatusReceived:  {StatusRead},
		},
		[]Status{StatusDelivered, StatusUndelivered, StatusFailed},
	)
)

func newLifecycle(edges map[Status][]Status, terminal []Status) *Lifecycle {
	l := &Lifecycle{
		edges:     edges,
		terminal:  make(map[Status]struct{}, len(terminal)),
		reachable: make(map[Status]map[Status]struct{}),
	}
	for _, s := range terminal {
		l.terminal[s] = struct{}{}
	}

	for _, from := range l.Statuses() {
		seen := make(map[Status]struct{})
		stack := append([]Status(nil), edges[from]...)
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, edges[next]...)
		}
		l.reachable[from] = seen
	}

	return l
}

// LifecycleFor returns the status graph of the given kind, nil for an invalid kind.
func LifecycleFor(kind RecordKind) *Lifecycle {
	switch kind {
	case KindCall:
		return callLifecycle
	case KindSMS:
		return smsLifecycle
	}
	return nil
}

// Statuses lists every named status of the family, CREATED first.
func (l *Lifecycle) Statuses() []Status {
	out := []Status{StatusCreated}
	seen := map[Status]struct{}{StatusCreated: {}}
	queue := []Status{StatusCreated}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range l.edges[current] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// Has reports whether s belongs to the family. UNKNOWN belongs to every family.
func (l *Lifecycle) Has(s Status) bool {
	if s == StatusUnknown {
		return true
	}
	_, ok := l.reachable[s]
	return ok
}

func (l *Lifecycle) IsTerminal(s Status) bool {
	_, ok := l.terminal[s]
	return ok
}

// TransitionResult describes what applying a status did.
type TransitionResult int

const (
	TransitionApplied TransitionResult = iota + 1
	TransitionNoop
)

// Transition checks moving a record of the given kind from one status to another.
// Same status is a no-op; a move is legal only when the target is forward-reachable.
// UNKNOWN may be entered from any non-terminal status and may leave to any status but CREATED.
func Transition(kind RecordKind, from, to Status) (TransitionResult, error) {
	l := LifecycleFor(kind)
	if l == nil {
		return 0, fmt.Errorf("%w: invalid kind %q", ErrValidation, kind)
	}
	if !l.Has(to) {
		return 0, fmt.Errorf("%w: %s is not a %s status", ErrIllegalTransition, to, strings.ToLower(kind.String()))
	}
	if from == to {
		return TransitionNoop, nil
	}

	switch {
	case to == StatusCreated:
	case to == StatusUnknown:
		if !l.IsTerminal(from) {
			return TransitionApplied, nil
		}
	case from == StatusUnknown:
		return TransitionApplied, nil
	default:
		if _, ok := l.reachable[from][to]; ok {
			return TransitionApplied, nil
		}
	}

	return 0, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// IsTerminal reports whether s ends the lifecycle of the given kind.
// UNKNOWN is never terminal: callers must not assume delivery happened.
func IsTerminal(kind RecordKind, s Status) bool {
	l := LifecycleFor(kind)
	return l != nil && l.IsTerminal(s)
}

// ParseStatusFromString parses a canonical status name of the given kind.
func ParseStatusFromString(kind RecordKind, s string) (Status, error) {
	l := LifecycleFor(kind)
	if l == nil {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, kind)
	}
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Has(st) {
		return "", fmt.Errorf("%w: invalid %s status %q", ErrValidation, strings.ToLower(kind.String()), s)
	}
	return st, nil
}

// IsInbound reports whether s belongs to the inbound SMS branch.
func IsInbound(s Status) bool {
	switch s {
	case StatusReceiving, StatusReceived, StatusRead:
		return true
	}
	return false
}

// PendingStatuses lists outbound statuses that still expect a vendor update.
func PendingStatuses(kind RecordKind) []Status {
	l := LifecycleFor(kind)
	if l == nil {
		return nil
	}
	out := make([]Status, 0)
	for _, s := range l.Statuses() {
		if !l.IsTerminal(s) && !IsInbound(s) {
			out = append(out, s)
		}
	}
	return append(out, StatusUnknown)
}
