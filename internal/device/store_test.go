package device

import (
	"path/filepath"
	"testing"
	"time"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertFromObservationCreatesDevice(t *testing.T) {
	s := mustOpen(t)

	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 15, 10, 1, 0, 0, time.UTC)

	d, created, err := s.UpsertFromObservation("192.168.1.50", "", "", t0)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first observation")
	}
	if d.FirstSeen != t0 || d.LastSeen != t0 {
		t.Fatalf("unexpected timestamps: %+v", d)
	}

	d2, created2, err := s.UpsertFromObservation("192.168.1.50", "", "", t1)
	if err != nil {
		t.Fatalf("upsert2: %v", err)
	}
	if created2 {
		t.Fatal("second observation of same device must not be created")
	}
	if !d2.LastSeen.Equal(t1) {
		t.Fatalf("last_seen did not advance: %v", d2.LastSeen)
	}
	if !d2.FirstSeen.Equal(t0) {
		t.Fatalf("first_seen regressed: %v", d2.FirstSeen)
	}

	if s.Count() != 1 {
		t.Fatalf("expected exactly one device, got %d", s.Count())
	}
}

func TestUpsertIdempotentIdenticalArgs(t *testing.T) {
	s := mustOpen(t)
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	d1, c1, err := s.UpsertFromObservation("10.0.0.5", "aa:bb:cc:dd:ee:ff", "host1", ts)
	if err != nil {
		t.Fatal(err)
	}
	d2, c2, err := s.UpsertFromObservation("10.0.0.5", "aa:bb:cc:dd:ee:ff", "host1", ts)
	if err != nil {
		t.Fatal(err)
	}
	if !c1 || c2 {
		t.Fatalf("expected created once: c1=%v c2=%v", c1, c2)
	}
	if d1.ID != d2.ID || !d1.LastSeen.Equal(d2.LastSeen) {
		t.Fatalf("state diverged across identical upserts: %+v vs %+v", d1, d2)
	}
}

func TestMACTakesPrecedenceAndIPCanChange(t *testing.T) {
	s := mustOpen(t)
	ts := time.Now().UTC()

	d, _, err := s.UpsertFromObservation("10.0.0.5", "aa:bb:cc:dd:ee:ff", "", ts)
	if err != nil {
		t.Fatal(err)
	}

	later := ts.Add(time.Minute)
	d2, created, err := s.UpsertFromObservation("10.0.0.9", "aa:bb:cc:dd:ee:ff", "", later)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("same MAC must update in place, not create")
	}
	if d2.ID != d.ID {
		t.Fatalf("identifier changed: %s -> %s", d.ID, d2.ID)
	}
	if d2.IP != "10.0.0.9" {
		t.Fatalf("IP did not update: %s", d2.IP)
	}
}

func TestMACArrivingAfterIPOnlyRecordUpdatesInPlace(t *testing.T) {
	s := mustOpen(t)
	ts := time.Now().UTC()

	d, created, err := s.UpsertFromObservation("10.0.0.5", "", "", ts)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first observation to create the device")
	}

	// The same host observed again, now with a MAC: the existing IP-keyed
	// record is updated in place rather than a duplicate being created.
	d2, created2, err := s.UpsertFromObservation("10.0.0.5", "aa:bb:cc:dd:ee:ff", "", ts.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if created2 {
		t.Fatal("expected mac-after-ip observation to update, not create")
	}
	if d2.ID != d.ID {
		t.Fatalf("identifier changed: %s -> %s", d.ID, d2.ID)
	}
	if d2.MAC != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("MAC not recorded on existing record: %q", d2.MAC)
	}
	if s.Count() != 1 {
		t.Fatalf("expected exactly one device, got %d", s.Count())
	}
}

func TestAddTagIdempotent(t *testing.T) {
	s := mustOpen(t)
	d, _, err := s.UpsertFromObservation("10.0.0.1", "", "", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AddTag(d.ID, "trusted"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTag(d.ID, "trusted"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "trusted" {
		t.Fatalf("expected single trusted tag, got %v", got.Tags)
	}
}

func TestFingerprintNeverOverridesOperatorType(t *testing.T) {
	s := mustOpen(t)
	d, _, err := s.UpsertFromObservation("10.0.0.1", "", "my-iphone", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.GuessedType != TypePhone {
		t.Fatalf("expected fingerprinted phone type, got %s", got.GuessedType)
	}

	if err := s.SetType(d.ID, TypeDesktop); err != nil {
		t.Fatal(err)
	}

	// A later observation must not let fingerprinting clobber the explicit
	// operator choice.
	_, _, err = s.UpsertFromObservation("10.0.0.1", "", "my-iphone", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	got2, err := s.Get(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got2.GuessedType != TypeDesktop {
		t.Fatalf("operator type overridden: %s", got2.GuessedType)
	}
}

func TestReplayRestoresState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.jsonl")
	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC()
	d, _, err := s1.UpsertFromObservation("10.0.0.2", "", "printer-1", ts)
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.Get(d.ID)
	if err != nil {
		t.Fatalf("device not restored: %v", err)
	}
	if got.IP != "10.0.0.2" {
		t.Fatalf("unexpected restored device: %+v", got)
	}
}
