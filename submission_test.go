package dms

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		Submitted: {Forwarded},
		Forwarded: {Processed, Failed},
		Processed: {Completed, CallbackFailed},
		Failed:    {Completed, CallbackFailed},
	}
	all := []Status{Submitted, Forwarded, Processed, Failed, Completed, CallbackFailed}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
	if !Completed.IsTerminal() || !CallbackFailed.IsTerminal() || Processed.IsTerminal() {
		t.Errorf("terminal statuses misreported")
	}
	if Status("Bogus").IsValid() {
		t.Errorf("unknown status reported valid")
	}
}

func TestLocked(t *testing.T) {
	now := time.Now()
	ttl := 30 * time.Second

	item := SubmissionItem{}
	if item.Locked(now, ttl) {
		t.Errorf("item with nil lockedAt reported locked")
	}
	held := now.Add(-10 * time.Second)
	item.LockedAt = &held
	if !item.Locked(now, ttl) {
		t.Errorf("item inside the TTL reported unlocked")
	}
	expired := now.Add(-31 * time.Second)
	item.LockedAt = &expired
	if item.Locked(now, ttl) {
		t.Errorf("item past the TTL reported locked")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(Error{Code: Duplicate, Err: fmt.Errorf("collision")}); got != Duplicate {
		t.Errorf("CodeOf = %v, want Duplicate", got)
	}
	wrapped := fmt.Errorf("outer, details: %w", Error{Code: Transient, Err: fmt.Errorf("io")})
	if got := CodeOf(wrapped); got != Transient {
		t.Errorf("CodeOf wrapped = %v, want Transient", got)
	}
	if got := CodeOf(errors.New("plain")); got != Unknown {
		t.Errorf("CodeOf plain = %v, want Unknown", got)
	}
	if got := CodeOf(nil); got != Unknown {
		t.Errorf("CodeOf nil = %v, want Unknown", got)
	}
}
