package domain

import (
	"errors"
	"math/rand"
	"testing"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    RecordKind
		from    Status
		to      Status
		want    TransitionResult
		wantErr error
	}{
		{name: "call created to queued", kind: KindCall, from: StatusCreated, to: StatusQueued, want: TransitionApplied},
		{name: "call queued to ringing", kind: KindCall, from: StatusQueued, to: StatusRinging, want: TransitionApplied},
		{name: "call skips in-progress", kind: KindCall, from: StatusRinging, to: StatusNoAnswer, want: TransitionApplied},
		{name: "call same status is noop", kind: KindCall, from: StatusCompleted, to: StatusCompleted, want: TransitionNoop},
		{name: "call completed to ringing regresses", kind: KindCall, from: StatusCompleted, to: StatusRinging, wantErr: ErrIllegalTransition},
		{name: "call terminal to terminal", kind: KindCall, from: StatusBusy, to: StatusCompleted, wantErr: ErrIllegalTransition},
		{name: "call back to created", kind: KindCall, from: StatusQueued, to: StatusCreated, wantErr: ErrIllegalTransition},
		{name: "call rejects sms status", kind: KindCall, from: StatusQueued, to: StatusDelivered, wantErr: ErrIllegalTransition},
		{name: "sms created to sent", kind: KindSMS, from: StatusCreated, to: StatusSent, want: TransitionApplied},
		{name: "sms sent to delivered", kind: KindSMS, from: StatusSent, to: StatusDelivered, want: TransitionApplied},
		{name: "sms delivered to sent regresses", kind: KindSMS, from: StatusDelivered, to: StatusSent, wantErr: ErrIllegalTransition},
		{name: "sms queued before accepted", kind: KindSMS, from: StatusQueued, to: StatusAccepted, wantErr: ErrIllegalTransition},
		{name: "sms inbound branch", kind: KindSMS, from: StatusCreated, to: StatusReceiving, want: TransitionApplied},
		{name: "sms inbound read", kind: KindSMS, from: StatusReceived, to: StatusRead, want: TransitionApplied},
		{name: "sms branches do not cross", kind: KindSMS, from: StatusSending, to: StatusReceived, wantErr: ErrIllegalTransition},
		{name: "sms rejects call status", kind: KindSMS, from: StatusSent, to: StatusRinging, wantErr: ErrIllegalTransition},
		{name: "unknown from non-terminal", kind: KindCall, from: StatusRinging, to: StatusUnknown, want: TransitionApplied},
		{name: "unknown from terminal", kind: KindCall, from: StatusCompleted, to: StatusUnknown, wantErr: ErrIllegalTransition},
		{name: "unknown to known", kind: KindSMS, from: StatusUnknown, to: StatusQueued, want: TransitionApplied},
		{name: "unknown to created", kind: KindSMS, from: StatusUnknown, to: StatusCreated, wantErr: ErrIllegalTransition},
		{name: "invalid kind", kind: RecordKind("FAX"), from: StatusCreated, to: StatusQueued, wantErr: ErrValidation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Transition(tt.kind, tt.from, tt.to)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Transition() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Transition() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Random status sequences must only ever move a record forward; rejected
// transitions leave the status untouched.
func TestTransitionRandomSequences(t *testing.T) {
	t.Parallel()

	for _, kind := range []RecordKind{KindCall, KindSMS} {
		l := LifecycleFor(kind)
		candidates := append(l.Statuses(), StatusUnknown, StatusRinging, StatusDelivered)
		rng := rand.New(rand.NewSource(42))

		for run := 0; run < 500; run++ {
			current := StatusCreated
			terminalReached := false

			for step := 0; step < 12; step++ {
				next := candidates[rng.Intn(len(candidates))]
				before := current

				result, err := Transition(kind, current, next)
				if err != nil {
					if !errors.Is(err, ErrIllegalTransition) {
						t.Fatalf("%s: Transition(%s, %s) error = %v, want ErrIllegalTransition", kind, current, next, err)
					}
					if current != before {
						t.Fatalf("%s: rejected transition changed status", kind)
					}
					continue
				}

				if result == TransitionNoop && next != current {
					t.Fatalf("%s: noop for differing statuses %s -> %s", kind, current, next)
				}
				if terminalReached && next != current {
					t.Fatalf("%s: left terminal status %s for %s", kind, current, next)
				}
				if next == StatusCreated && current != StatusCreated {
					t.Fatalf("%s: regressed to CREATED from %s", kind, current)
				}

				current = next
				if l.IsTerminal(current) {
					terminalReached = true
				}
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	if !IsTerminal(KindCall, StatusNoAnswer) {
		t.Fatal("NO_ANSWER should be terminal for calls")
	}
	if IsTerminal(KindCall, StatusDelivered) {
		t.Fatal("DELIVERED is not a call status")
	}
	if !IsTerminal(KindSMS, StatusUndelivered) {
		t.Fatal("UNDELIVERED should be terminal for sms")
	}
	if IsTerminal(KindSMS, StatusUnknown) || IsTerminal(KindCall, StatusUnknown) {
		t.Fatal("UNKNOWN must never be terminal")
	}
}

func TestPendingStatuses(t *testing.T) {
	t.Parallel()

	got := PendingStatuses(KindSMS)
	for _, s := range got {
		if IsTerminal(KindSMS, s) {
			t.Fatalf("pending statuses contain terminal %s", s)
		}
		if IsInbound(s) {
			t.Fatalf("pending statuses contain inbound %s", s)
		}
	}
	if got[len(got)-1] != StatusUnknown {
		t.Fatalf("last pending status = %s, want UNKNOWN", got[len(got)-1])
	}
}

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseStatusFromString(KindCall, " in_progress ")
	if err != nil {
		t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
	}
	if got != StatusInProgress {
		t.Fatalf("ParseStatusFromString() = %s, want %s", got, StatusInProgress)
	}

	_, err = ParseStatusFromString(KindCall, "delivered")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
	}
}
