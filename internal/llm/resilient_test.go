package llm

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/rubot/rubot/internal/backoff"
	"github.com/rubot/rubot/internal/metrics"
)

var fastSchedule = backoff.Schedule{30 * time.Second, 60 * time.Second, 120 * time.Second}

func newTestResilient(completer Completer, fallback string, recorder *backoff.Recorder) *Resilient {
	return NewResilient(completer, "primary/model", Policy{
		MaxRetries:    3,
		Schedule:      fastSchedule,
		FallbackModel: fallback,
		Sleeper:       recorder,
	}, nil, metrics.New())
}

func TestResilientPrimarySucceedsFirstTry(t *testing.T) {
	completer := newScripted(map[string][]Result{"primary/model": {validResult("ok")}})
	recorder := &backoff.Recorder{}

	got, err := newTestResilient(completer, "fallback/model", recorder).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model != "primary/model" || got.UsedFallback || got.Attempts != 1 || got.Content() != "ok" {
		t.Fatalf("unexpected completion %+v", got)
	}
	if len(recorder.Waits()) != 0 {
		t.Fatalf("no waits expected")
	}
}

func TestResilientRetriesEmptyThenSucceeds(t *testing.T) {
	completer := newScripted(map[string][]Result{"primary/model": {
		{Kind: KindEmpty, Err: ErrEmptyContent},
		transientResult("timeout"),
		validResult("ok"),
	}})
	recorder := &backoff.Recorder{}

	got, err := newTestResilient(completer, "", recorder).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", got.Attempts)
	}
	if waits := recorder.Waits(); !reflect.DeepEqual(waits, []time.Duration(fastSchedule[:2])) {
		t.Fatalf("unexpected waits %v", waits)
	}
}

func TestResilientFallbackAfterPrimaryExhausted(t *testing.T) {
	completer := newScripted(map[string][]Result{
		"primary/model":  {transientResult("rate limited")},
		"fallback/model": {validResult("from fallback")},
	})
	recorder := &backoff.Recorder{}

	got, err := newTestResilient(completer, "fallback/model", recorder).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completer.Calls("primary/model") != 4 {
		t.Fatalf("expected 4 primary calls, got %d", completer.Calls("primary/model"))
	}
	if completer.Calls("fallback/model") != 1 {
		t.Fatalf("expected 1 fallback call, got %d", completer.Calls("fallback/model"))
	}
	if got.Model != "fallback/model" || !got.UsedFallback || got.Content() != "from fallback" {
		t.Fatalf("unexpected completion %+v", got)
	}
	if waits := recorder.Waits(); !reflect.DeepEqual(waits, []time.Duration(fastSchedule)) {
		t.Fatalf("expected full schedule waits, got %v", waits)
	}
}

func TestResilientNoFallbackReturnsLastPrimaryError(t *testing.T) {
	last := &HTTPStatusError{Status: http.StatusServiceUnavailable}
	completer := newScripted(map[string][]Result{"primary/model": {
		transientResult("first"),
		transientResult("second"),
		transientResult("third"),
		{Kind: KindTransient, Err: last},
	}})

	_, err := newTestResilient(completer, "", &backoff.Recorder{}).Complete(context.Background(), Request{})
	if !errors.Is(err, last) {
		t.Fatalf("expected last primary error, got %v", err)
	}
	if completer.Calls("primary/model") != 4 {
		t.Fatalf("expected 4 primary calls, got %d", completer.Calls("primary/model"))
	}
}

func TestResilientFallbackEqualToPrimaryIsSkipped(t *testing.T) {
	completer := newScripted(map[string][]Result{"primary/model": {transientResult("down")}})

	_, err := newTestResilient(completer, "primary/model", &backoff.Recorder{}).Complete(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if completer.Calls("primary/model") != 4 {
		t.Fatalf("fallback equal to primary must not add a call, got %d", completer.Calls("primary/model"))
	}
}

func TestResilientFallbackEmptyRaisesPrimaryError(t *testing.T) {
	primaryErr := errors.New("primary exhausted")
	completer := newScripted(map[string][]Result{
		"primary/model":  {{Kind: KindTransient, Err: primaryErr}},
		"fallback/model": {{Kind: KindEmpty, Err: ErrEmptyContent}},
	})

	_, err := newTestResilient(completer, "fallback/model", &backoff.Recorder{}).Complete(context.Background(), Request{})
	if !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
	if errors.Is(err, ErrEmptyContent) {
		t.Fatalf("fallback failure must not mask the primary error")
	}
}

func TestResilientFatalShortCircuits(t *testing.T) {
	fatal := &HTTPStatusError{Status: http.StatusUnauthorized}
	completer := newScripted(map[string][]Result{
		"primary/model":  {{Kind: KindFatal, Err: fatal}},
		"fallback/model": {validResult("never")},
	})
	recorder := &backoff.Recorder{}

	_, err := newTestResilient(completer, "fallback/model", recorder).Complete(context.Background(), Request{})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if completer.Calls("primary/model") != 1 || completer.Calls("fallback/model") != 0 {
		t.Fatalf("fatal errors must not be retried or fall back")
	}
	if len(recorder.Waits()) != 0 {
		t.Fatalf("no waits expected on fatal error")
	}
}

func TestResilientCancelledWaitStops(t *testing.T) {
	completer := newScripted(map[string][]Result{
		"primary/model":  {transientResult("down")},
		"fallback/model": {validResult("never")},
	})
	r := NewResilient(completer, "primary/model", Policy{
		MaxRetries:    3,
		Schedule:      fastSchedule,
		FallbackModel: "fallback/model",
		Sleeper: backoff.SleeperFunc(func(context.Context, time.Duration) error {
			return context.Canceled
		}),
	}, nil, nil)

	_, err := r.Complete(context.Background(), Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if completer.Calls("fallback/model") != 0 {
		t.Fatalf("cancelled run must not fall back")
	}
}
