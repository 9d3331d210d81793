package ioc

import (
	"path/filepath"
	"testing"
	"time"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "iocs.jsonl"), filepath.Join(dir, "matches.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertBatchIdempotentAndMaxLastSeen(t *testing.T) {
	s := mustOpen(t)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	rec := IOC{Value: "Evil.Example.COM", Type: TypeDomain, Source: "urlhaus", FirstSeen: t0, LastSeen: t0, Confidence: 0.8, Category: CategoryMalware}
	if err := s.UpsertBatch([]IOC{rec}); err != nil {
		t.Fatal(err)
	}
	rec.LastSeen = t1
	rec.Confidence = 0.95
	if err := s.UpsertBatch([]IOC{rec}); err != nil {
		t.Fatal(err)
	}

	matches := s.Lookup("evil.example.com", TypeDomain)
	if len(matches) != 1 {
		t.Fatalf("expected exactly one IOC after idempotent upsert, got %d", len(matches))
	}
	if !matches[0].LastSeen.Equal(t1) {
		t.Fatalf("last_seen did not take max: %v", matches[0].LastSeen)
	}
	if matches[0].Confidence != 0.95 {
		t.Fatalf("confidence did not take max: %v", matches[0].Confidence)
	}
}

func TestLookupNormalizesDomainCase(t *testing.T) {
	s := mustOpen(t)
	rec := IOC{Value: "EVIL.example.com", Type: TypeDomain, Source: "otx", LastSeen: time.Now(), Confidence: 0.5}
	if err := s.UpsertBatch([]IOC{rec}); err != nil {
		t.Fatal(err)
	}
	if len(s.Lookup("evil.EXAMPLE.com", TypeDomain)) != 1 {
		t.Fatal("expected case-insensitive domain lookup to match")
	}
}

func TestDistinctSourcesCoexist(t *testing.T) {
	s := mustOpen(t)
	now := time.Now()
	if err := s.UpsertBatch([]IOC{
		{Value: "evil.example.com", Type: TypeDomain, Source: "otx", LastSeen: now, Confidence: 0.6},
		{Value: "evil.example.com", Type: TypeDomain, Source: "urlhaus", LastSeen: now, Confidence: 0.9},
	}); err != nil {
		t.Fatal(err)
	}
	matches := s.Lookup("evil.example.com", TypeDomain)
	if len(matches) != 2 {
		t.Fatalf("expected two distinct-source IOCs, got %d", len(matches))
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := mustOpen(t)
	old := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now()
	if err := s.UpsertBatch([]IOC{
		{Value: "old.example.com", Type: TypeDomain, Source: "otx", LastSeen: old, Confidence: 0.5},
		{Value: "new.example.com", Type: TypeDomain, Source: "otx", LastSeen: recent, Confidence: 0.5},
	}); err != nil {
		t.Fatal(err)
	}

	purged, err := s.PurgeOlderThan(90 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected to purge exactly one stale IOC, got %d", purged)
	}
	if len(s.Lookup("old.example.com", TypeDomain)) != 0 {
		t.Fatal("stale IOC was not purged")
	}
	if len(s.Lookup("new.example.com", TypeDomain)) != 1 {
		t.Fatal("recent IOC was incorrectly purged")
	}
}

func TestLookupManyAndStats(t *testing.T) {
	s := mustOpen(t)
	now := time.Now()
	if err := s.UpsertBatch([]IOC{
		{Value: "a.example.com", Type: TypeDomain, Source: "otx", LastSeen: now, Confidence: 0.5},
		{Value: "1.2.3.4", Type: TypeIP, Source: "feodo", LastSeen: now, Confidence: 0.7},
	}); err != nil {
		t.Fatal(err)
	}

	many := s.LookupMany([]string{"a.example.com", "missing.example.com"}, TypeDomain)
	if len(many) != 1 {
		t.Fatalf("expected one hit out of two queried values, got %d", len(many))
	}

	stats := s.Stats()
	if stats.TotalIOCs != 2 {
		t.Fatalf("expected 2 total IOCs, got %d", stats.TotalIOCs)
	}
}
