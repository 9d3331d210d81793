package scorer

import (
	"context"
	"testing"
)

func TestHeuristicDeviceAnomalyScorerFlagsFanOut(t *testing.T) {
	s := DefaultHeuristicDeviceAnomalyScorer()
	var recs []Record
	for i := 0; i < 100; i++ {
		recs = append(recs, Record{DeviceID: "dev-1", DestIP: "10.0.0." + string(rune('0'+i%90)), DestPort: 1000 + i})
	}
	res, err := s.Score(context.Background(), "dev-1", NewSliceRecords(recs))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score <= 0 {
		t.Fatalf("expected nonzero anomaly score for fan-out behavior, got %v", res.Score)
	}
	if len(res.Reasons) == 0 {
		t.Fatal("expected at least one reason for a flagged device")
	}
}

func TestHeuristicDeviceAnomalyScorerQuietDevice(t *testing.T) {
	s := DefaultHeuristicDeviceAnomalyScorer()
	recs := []Record{{DeviceID: "dev-2", DestIP: "1.1.1.1", DestPort: 443, BytesToSrv: 100}}
	res, err := s.Score(context.Background(), "dev-2", NewSliceRecords(recs))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0 {
		t.Fatalf("expected zero score for a quiet device, got %v", res.Score)
	}
}

func TestHeuristicDomainRiskScorerFlagsHighEntropy(t *testing.T) {
	s := DefaultHeuristicDomainRiskScorer()
	res, err := s.Score(context.Background(), "xk29dj1nq8zp3.top", NewSliceRecords(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score <= 0.3 {
		t.Fatalf("expected high risk score for DGA-like domain, got %v", res.Score)
	}
}

func TestHeuristicDomainRiskScorerLowRiskForCommonDomain(t *testing.T) {
	s := DefaultHeuristicDomainRiskScorer()
	res, err := s.Score(context.Background(), "www.google.com", NewSliceRecords(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score > 0.2 {
		t.Fatalf("expected low risk score for a common domain, got %v", res.Score)
	}
}
