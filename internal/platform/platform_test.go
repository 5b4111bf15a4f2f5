package platform

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFatalWrapping(t *testing.T) {
	t.Parallel()
	if Fatal(nil) != nil {
		t.Fatalf("Fatal(nil) != nil")
	}
	err := fmt.Errorf("session 3: %w", Fatal(ErrUnauthorized))
	if !IsFatal(err) {
		t.Fatalf("IsFatal(%v) = false", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrapped error lost ErrUnauthorized")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatalf("plain error reported fatal")
	}
}

func TestOutcomeConstructors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		got  Outcome
		kind OutcomeKind
		name string
	}{
		{Success("joined"), OutcomeSuccess, "success"},
		{TransientWait(-time.Second, "flood"), OutcomeTransient, "transient"},
		{RequestPending("sent"), OutcomeRequestPending, "requested"},
		{PermanentFailure("expired"), OutcomePermanent, "permanent"},
		{Failure("???"), OutcomeFailed, "failed"},
	}
	for _, c := range cases {
		if c.got.Kind != c.kind || c.got.Kind.String() != c.name {
			t.Fatalf("outcome = %+v (%s), want %s", c.got, c.got.Kind, c.name)
		}
	}
	if w := cases[1].got.Wait; w != 0 {
		t.Fatalf("negative wait clamped to %v, want 0", w)
	}
}
