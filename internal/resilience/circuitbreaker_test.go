package resilience

import (
	"errors"
	"testing"
)

func TestCircuitBreakerExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig("test"))
	result, err := cb.Execute(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(int) != 42 {
		t.Errorf("got %v, want 42", result)
	}
}

func TestCircuitBreakerWrapsFailure(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig("test-fail"))
	wantErr := errors.New("boom")
	_, err := cb.Execute(func() (any, error) { return nil, wantErr })
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped %v, got %v", wantErr, err)
	}
}
