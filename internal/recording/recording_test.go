package recording

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/quill/internal/db"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB
}

func receive(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

// --- Bus tests ---

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Statuses(ctx)

	bus.Publish(ctx, Update{SessionID: "s1", Status: RunningActive})
	bus.Publish(ctx, Update{SessionID: "s1", Status: Inactive})

	if u := receive(t, ch); u.Status != RunningActive {
		t.Errorf("first = %q, want running_active", u.Status)
	}
	if u := receive(t, ch); u.Status != Inactive {
		t.Errorf("second = %q, want inactive", u.Status)
	}
}

func TestBus_ClosesOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Statuses(ctx)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("running_paused"); err != nil || s != RunningPaused {
		t.Errorf("ParseStatus = %q, %v", s, err)
	}
	if _, err := ParseStatus("recording"); err == nil {
		t.Error("expected error for unknown status")
	}
}

// --- Poller tests ---

func TestPoller_SeedsBaselineThenDetectsChanges(t *testing.T) {
	gormDB := testDB(t)
	ctx := context.Background()
	if err := Save(ctx, gormDB, Update{SessionID: "s1", Status: RunningActive}); err != nil {
		t.Fatal(err)
	}

	p, err := NewPoller(PollerOpts{DB: gormDB, Bus: NewBus()})
	if err != nil {
		t.Fatal(err)
	}
	if _, changed, err := p.Poll(ctx); err != nil || changed {
		t.Fatalf("first Poll changed = %v, err = %v; want baseline only", changed, err)
	}
	if _, changed, _ := p.Poll(ctx); changed {
		t.Error("unchanged state reported as change")
	}

	Save(ctx, gormDB, Update{SessionID: "s1", Status: Inactive})
	u, changed, err := p.Poll(ctx)
	if err != nil || !changed {
		t.Fatalf("Poll after change = %v, %v", changed, err)
	}
	if u.Status != Inactive || u.SessionID != "s1" {
		t.Errorf("update = %+v", u)
	}
}

func TestPoller_RunPublishes(t *testing.T) {
	gormDB := testDB(t)
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Statuses(ctx)

	p, _ := NewPoller(PollerOpts{DB: gormDB, Bus: bus, Interval: 10 * time.Millisecond})
	// Seed before Run so the baseline is inactive.
	p.Poll(ctx)
	go p.Run(ctx)

	Save(ctx, gormDB, Update{SessionID: "s2", Status: RunningActive})
	if u := receive(t, ch); u.Status != RunningActive || u.SessionID != "s2" {
		t.Errorf("published = %+v", u)
	}
}

func TestLoad_MissingRowIsInactive(t *testing.T) {
	u, err := Load(context.Background(), testDB(t))
	if err != nil || u.Status != Inactive {
		t.Errorf("Load = %+v, %v; want inactive", u, err)
	}
}

func TestNewPoller_Validation(t *testing.T) {
	if _, err := NewPoller(PollerOpts{Bus: NewBus()}); err == nil {
		t.Error("expected error for missing db")
	}
	if _, err := NewPoller(PollerOpts{DB: testDB(t)}); err == nil {
		t.Error("expected error for missing bus")
	}
}
