package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestScheduleSweep(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	sweeper := NewSessionSweeper(store.NewInMemoryStore(), time.Hour)
	if err := s.ScheduleSweep("", sweeper); err != nil {
		t.Errorf("default spec rejected: %v", err)
	}
	if err := s.ScheduleSweep("61 * * * *", sweeper); err == nil {
		t.Error("expected invalid spec to be rejected")
	}
}

func TestSessionSweeper_Sweep(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := models.NewConversation("+15550000001", now.Add(-3*time.Hour))
	fresh := models.NewConversation("+15550000002", now.Add(-10*time.Minute))
	for _, c := range []*models.Conversation{stale, fresh} {
		if err := st.SaveConversation(*c); err != nil {
			t.Fatal(err)
		}
	}

	sweeper := NewSessionSweeper(st, time.Hour)
	sweeper.now = func() time.Time { return now }
	n, err := sweeper.Sweep()
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v; want 1", n, err)
	}
	if c, _ := st.GetConversation(stale.UserID); c != nil {
		t.Error("stale conversation survived")
	}
	if c, _ := st.GetConversation(fresh.UserID); c == nil {
		t.Error("fresh conversation was purged")
	}
}

type failingPurger struct{}

func (failingPurger) PurgeIdleConversations(time.Time) (int, error) {
	return 0, errors.New("db locked")
}

func TestSessionSweeper_Error(t *testing.T) {
	if _, err := NewSessionSweeper(failingPurger{}, time.Hour).Sweep(); err == nil {
		t.Error("expected purge error")
	}
}
