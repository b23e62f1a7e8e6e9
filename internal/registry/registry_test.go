package registry

import (
	"fmt"
	"miyav/internal/models"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	name   string
	closed bool
}

func (f *fakeHandle) Send(models.ServerMessage) bool { return true }

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New()
	h := &fakeHandle{name: "h"}

	if prev := r.Add("u1", h); prev != nil {
		t.Errorf("expected no previous handle, got %v", prev)
	}

	got, ok := r.Get("u1")
	if !ok || got != h {
		t.Fatalf("Get returned %v, %v", got, ok)
	}

	r.Remove("u1")
	if _, ok := r.Get("u1"); ok {
		t.Error("user still registered after Remove")
	}

	// Idempotent
	r.Remove("u1")
	r.Remove("never-added")
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestRegistry_LastConnectWins(t *testing.T) {
	r := New()
	h1 := &fakeHandle{name: "h1"}
	h2 := &fakeHandle{name: "h2"}

	r.Add("u1", h1)
	prev := r.Add("u1", h2)
	if prev != h1 {
		t.Errorf("expected h1 to be replaced, got %v", prev)
	}

	got, _ := r.Get("u1")
	if got != h2 {
		t.Errorf("expected h2, got %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("expected one connection, got %d", r.Count())
	}

	// A stale handle cannot evict the newer one.
	if r.Release("u1", h1) {
		t.Error("Release with stale handle must not remove")
	}
	if got, _ := r.Get("u1"); got != h2 {
		t.Error("h2 evicted by stale release")
	}

	if !r.Release("u1", h2) {
		t.Error("Release with current handle must remove")
	}
	if _, ok := r.Get("u1"); ok {
		t.Error("user still registered after Release")
	}
}

func TestRegistry_Connection(t *testing.T) {
	r := New()
	at := time.Unix(1700000000, 0)
	r.now = func() time.Time { return at }

	r.Add("u1", &fakeHandle{})
	c, ok := r.Connection("u1")
	if !ok {
		t.Fatal("connection not found")
	}
	if c.UserID != "u1" || !c.ConnectedAt.Equal(at) {
		t.Errorf("unexpected connection: %+v", c)
	}
}

func TestRegistry_ConnectedUsers(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		r.Add(id, &fakeHandle{})
	}

	got := r.ConnectedUsers()
	want := []string{"a", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("u%d", i%5)
		wg.Go(func() {
			h := &fakeHandle{}
			r.Add(id, h)
			r.Get(id)
			r.Release(id, h)
		})
	}
	wg.Wait()

	if r.Count() > 5 {
		t.Errorf("expected at most 5 users, got %d", r.Count())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := New()
	h1, h2 := &fakeHandle{name: "h1"}, &fakeHandle{name: "h2"}
	r.Add("u1", h1)
	r.Add("u2", h2)

	r.CloseAll()

	if !h1.closed || !h2.closed {
		t.Errorf("handles not closed: %v %v", h1.closed, h2.closed)
	}
	if r.Count() != 2 {
		t.Errorf("CloseAll must not remove entries, count %d", r.Count())
	}
}
