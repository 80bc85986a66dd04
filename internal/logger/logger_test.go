package logger

import "testing"

func TestRedactsSecretsAndHashesUsers(t *testing.T) {
	l, logs := NewObserved()
	l.redact = true

	l.Info("llm configured", "api_key", "sk-123", "user_id", "ada", "goal_id", "recursion")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want [REDACTED]", fields["api_key"])
	}
	if fields["user_id"] == "ada" {
		t.Error("user_id was logged in clear text")
	}
	if fields["goal_id"] != "recursion" {
		t.Errorf("goal_id = %v, want recursion", fields["goal_id"])
	}
}

func TestWithKeepsFields(t *testing.T) {
	l, logs := NewObserved()
	l.With("service", "ledger").Warn("retrying")

	entries := logs.FilterMessage("retrying").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["service"]; got != "ledger" {
		t.Errorf("service = %v, want ledger", got)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("dev", "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
