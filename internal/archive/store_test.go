package archive

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return s
}

func TestRecordAndForIdentity(t *testing.T) {
	s := testStore(t)

	base := time.Now()
	exchanges := []*Exchange{
		{ID: "e1", IdentityID: "id-1", Specialist: "property", Inbound: "123 Main St?",
			Reply: "It's listed at $500k.", Iterations: 2, ToolsCalled: 1, CreatedAt: base},
		{ID: "e2", IdentityID: "id-1", Specialist: "general", Inbound: "thanks",
			Reply: "Anytime!", Iterations: 1, CreatedAt: base.Add(time.Second)},
		{ID: "e3", IdentityID: "id-2", Specialist: "business", Inbound: "occupancy?",
			Reply: "94%.", Iterations: 2, ToolsCalled: 1, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range exchanges {
		if err := s.Record(e); err != nil {
			t.Fatalf("Record(%s) = %v", e.ID, err)
		}
	}

	got, err := s.ForIdentity("id-1", 0)
	if err != nil {
		t.Fatalf("ForIdentity() = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d exchanges, want 2", len(got))
	}
	if got[0].ID != "e2" {
		t.Errorf("newest-first ordering broken: first is %s", got[0].ID)
	}
	if got[1].Specialist != "property" || got[1].Reply != "It's listed at $500k." {
		t.Errorf("round-trip mismatch: %+v", got[1])
	}
}

func TestForIdentityLimit(t *testing.T) {
	s := testStore(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Record(&Exchange{ID: id, IdentityID: "id-1", Specialist: "general",
			Inbound: "q", Reply: "r", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ForIdentity("id-1", 2)
	if err != nil {
		t.Fatalf("ForIdentity() = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" {
		t.Errorf("limit/order wrong: %+v", got)
	}
}

func TestRecordStampsCreatedAt(t *testing.T) {
	s := testStore(t)
	e := &Exchange{ID: "e1", IdentityID: "id-1", Specialist: "general", Inbound: "q", Reply: "r"}
	if err := s.Record(e); err != nil {
		t.Fatal(err)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestCount(t *testing.T) {
	s := testStore(t)
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count() = %d on empty store", n)
	}
	s.Record(&Exchange{ID: "e1", IdentityID: "x", Specialist: "general", Inbound: "q", Reply: "r"})
	if n, _ := s.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}
