package scheduler

import "testing"

func TestAddJobValidExpression(t *testing.T) {
	s := New()
	defer s.Stop()
	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddJobInvalidExpression(t *testing.T) {
	s := New()
	defer s.Stop()
	if err := s.AddJob("not a cron expression", func() {}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
