package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := New(DefaultConfig())

	ctx := context.Background()
	err := cb.Execute(ctx, func() error {
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState_Failure(t *testing.T) {
	cb := New(DefaultConfig())

	ctx := context.Background()
	err := cb.Execute(ctx, func() error {
		return errTestError
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}

	stats := cb.GetStats()
	if stats.FailureCount != 1 {
		t.Errorf("Expected failure count 1, got: %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_OpenState_RejectsWithoutInvoking(t *testing.T) {
	cfg := Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		ResetTimeout:        100 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
	cb := New(cfg)

	ctx := context.Background()

	// Cause failures to open circuit
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return errTestError
		})
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.GetState())
	}

	// Requests should be rejected without the operation running
	invoked := false
	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if invoked {
		t.Error("Operation must not run while circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenState_TransitionToClosed(t *testing.T) {
	cfg := Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		ResetTimeout:        50 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
	cb := New(cfg)

	ctx := context.Background()

	// Open the circuit
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return errTestError
		})
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.GetState())
	}

	// Wait for reset timeout to allow transition to half-open
	time.Sleep(60 * time.Millisecond)

	// First request transitions to half-open and must invoke the operation
	invoked := false
	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if !invoked {
		t.Error("Expected operation to run after reset timeout elapsed")
	}

	// Second success should close the circuit
	err = cb.Execute(ctx, func() error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenState_FailureReopens(t *testing.T) {
	cfg := Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		ResetTimeout:        50 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
	cb := New(cfg)

	ctx := context.Background()

	// Open the circuit
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return errTestError
		})
	}

	time.Sleep(60 * time.Millisecond)

	// Failure in half-open should reopen circuit
	err := cb.Execute(ctx, func() error {
		return errTestError
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenState_MaxRequestsLimit(t *testing.T) {
	cfg := Config{
		FailureThreshold:    1,
		SuccessThreshold:    5,
		ResetTimeout:        50 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
	cb := New(cfg)

	ctx := context.Background()

	_ = cb.Execute(ctx, func() error {
		return errTestError
	})

	time.Sleep(60 * time.Millisecond)

	// Two trial requests allowed; success threshold (5) keeps state half-open
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Request %d should be allowed, got error: %v", i+1, err)
		}
	}

	// Third request exceeds the half-open request cap
	err := cb.Execute(ctx, func() error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen after exhausting half-open requests, got: %v", err)
	}
}

func TestCircuitBreaker_Do_Success(t *testing.T) {
	cb := New(DefaultConfig())

	ctx := context.Background()
	result, err := Do(ctx, cb, func() (string, error) {
		return "success", nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got: %v", result)
	}
}

func TestCircuitBreaker_Do_OpenState(t *testing.T) {
	cfg := Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		ResetTimeout:        100 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
	cb := New(cfg)

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = Do(ctx, cb, func() (int, error) {
			return 0, errTestError
		})
	}

	result, err := Do(ctx, cb, func() (int, error) {
		return 42, nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if result != 0 {
		t.Errorf("Expected zero result, got: %v", result)
	}
}

func TestCircuitBreaker_OnStateChange_Callback(t *testing.T) {
	cfg := Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		ResetTimeout:        50 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
	cb := New(cfg)

	type stateChange struct {
		From State
		To   State
	}

	var mu sync.Mutex
	var stateChanges []stateChange
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		stateChanges = append(stateChanges, stateChange{From: from, To: to})
	})

	ctx := context.Background()

	// Open the circuit
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return errTestError
		})
	}

	time.Sleep(60 * time.Millisecond)

	// Transition to half-open and then closed
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return nil
		})
	}

	// Callbacks fire asynchronously
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	foundOpen := false
	foundHalfOpen := false
	foundClosed := false
	for _, change := range stateChanges {
		switch change.To {
		case StateOpen:
			foundOpen = true
		case StateHalfOpen:
			foundHalfOpen = true
		case StateClosed:
			foundClosed = true
		}
	}

	if !foundOpen || !foundHalfOpen || !foundClosed {
		t.Errorf("Expected open, half-open and closed transitions, got: %+v", stateChanges)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cfg := Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		ResetTimeout:        100 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	}
	cb := New(cfg)

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error {
			return errTestError
		})
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.GetState())
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after reset, got: %v", cb.GetState())
	}

	stats := cb.GetStats()
	if stats.FailureCount != 0 {
		t.Errorf("Expected failure count 0 after reset, got: %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(DefaultConfig())

	ctx := context.Background()
	var wg sync.WaitGroup
	numGoroutines := 10
	operationsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				_ = cb.Execute(ctx, func() error {
					return nil
				})
			}
		}()
	}

	wg.Wait()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after concurrent access, got: %v", cb.GetState())
	}

	stats := cb.GetStats()
	expectedOperations := numGoroutines * operationsPerGoroutine
	if stats.SuccessCount != expectedOperations {
		t.Errorf("Expected %d successful operations, got: %d", expectedOperations, stats.SuccessCount)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("Expected %s, got: %s", tt.expected, tt.state.String())
		}
	}
}
