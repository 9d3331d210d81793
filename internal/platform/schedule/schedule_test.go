package schedule

import (
	"testing"
	"time"
)

func TestNewFixedIntervalFiresOnInterval(t *testing.T) {
	ticker := New(10*time.Millisecond, "")
	defer ticker.Stop()

	select {
	case <-ticker.C:
	case <-time.After(time.Second):
		t.Fatal("expected fixed-interval ticker to fire")
	}
}

func TestNewCronExpressionTakesPrecedenceOverInterval(t *testing.T) {
	ticker := New(time.Hour, "* * * * *")
	defer ticker.Stop()

	if ticker.fixed != nil {
		t.Fatal("expected cron schedule to suppress the fixed ticker")
	}
	if ticker.cronSpec == nil {
		t.Fatal("expected a parsed cron schedule")
	}
}

func TestNewFallsBackToIntervalOnInvalidCronExpression(t *testing.T) {
	ticker := New(10*time.Millisecond, "not a cron expression")
	defer ticker.Stop()

	if ticker.fixed == nil {
		t.Fatal("expected invalid cron expression to fall back to the fixed ticker")
	}

	select {
	case <-ticker.C:
	case <-time.After(time.Second):
		t.Fatal("expected fallback ticker to fire")
	}
}
