// Package scorer defines the detection ports: two narrow capability
// interfaces, DeviceAnomalyScorer and DomainRiskScorer, plus a
// deterministic heuristic default implementation of each, so the full
// system is testable without model binaries. Implementations are swappable
// and registered at startup.
package scorer

import (
	"context"
	"math"
	"strings"
)

// Record is one observation extracted from IDS EVE JSON, carrying only the
// fields the feature extractor needs.
type Record struct {
	DeviceID     string
	SrcIP        string
	DestIP       string
	DestPort     int
	Proto        string
	BytesToSrv   int64
	BytesToCli   int64
	Domain       string
	IsDNSQuery   bool
}

// Records is a lazy, finite sequence of Record values. Implementations may
// stream from disk/log-store query results without materializing the full
// window in memory.
type Records interface {
	// Next returns the next record and true, or the zero value and false
	// when the sequence is exhausted.
	Next() (Record, bool)
}

// SliceRecords adapts a pre-materialized slice to the Records interface.
type SliceRecords struct {
	items []Record
	pos   int
}

// NewSliceRecords wraps items as a Records sequence.
func NewSliceRecords(items []Record) *SliceRecords {
	return &SliceRecords{items: items}
}

// Next implements Records.
func (s *SliceRecords) Next() (Record, bool) {
	if s.pos >= len(s.items) {
		return Record{}, false
	}
	r := s.items[s.pos]
	s.pos++
	return r, true
}

// Result is the output contract shared by both scorer ports.
type Result struct {
	Score    float64                `json:"score"`
	Reasons  []string               `json:"reasons"`
	Evidence map[string]interface{} `json:"evidence"`
}

// DeviceAnomalyScorer scores a single device's behavior over a window of
// records belonging to it.
type DeviceAnomalyScorer interface {
	Score(ctx context.Context, deviceID string, records Records) (Result, error)
}

// DomainRiskScorer scores a single domain based on records mentioning it,
// plus the domain string's lexical features.
type DomainRiskScorer interface {
	Score(ctx context.Context, domain string, records Records) (Result, error)
}

// deviceFeatures aggregates the per-device traffic features the anomaly
// heuristic scores on.
type deviceFeatures struct {
	connectionCount   int
	bytesToServer     int64
	bytesToClient     int64
	uniqueDestIPs     map[string]struct{}
	uniquePorts       map[int]struct{}
	dnsQueryCount     int
	uniqueDomains     map[string]struct{}
	protoCounts       map[string]int
}

func extractDeviceFeatures(records Records) deviceFeatures {
	f := deviceFeatures{
		uniqueDestIPs: make(map[string]struct{}),
		uniquePorts:   make(map[int]struct{}),
		uniqueDomains: make(map[string]struct{}),
		protoCounts:   make(map[string]int),
	}
	for {
		r, ok := records.Next()
		if !ok {
			break
		}
		f.connectionCount++
		f.bytesToServer += r.BytesToSrv
		f.bytesToClient += r.BytesToCli
		if r.DestIP != "" {
			f.uniqueDestIPs[r.DestIP] = struct{}{}
		}
		if r.DestPort != 0 {
			f.uniquePorts[r.DestPort] = struct{}{}
		}
		if r.IsDNSQuery {
			f.dnsQueryCount++
		}
		if r.Domain != "" {
			f.uniqueDomains[r.Domain] = struct{}{}
		}
		if r.Proto != "" {
			f.protoCounts[strings.ToLower(r.Proto)]++
		}
	}
	return f
}

// HeuristicDeviceAnomalyScorer is the default, deterministic
// DeviceAnomalyScorer: it flags devices with an unusually large number of
// distinct destinations/ports or DNS domains relative to fixed thresholds.
// It makes no claim to being a production ML model; it is the testable
// reference behavior a trained scorer can replace.
type HeuristicDeviceAnomalyScorer struct {
	UniqueDestIPThreshold  int
	UniquePortThreshold    int
	UniqueDomainThreshold  int
	ByteVolumeThreshold    int64
}

// DefaultHeuristicDeviceAnomalyScorer returns a scorer with reasonable
// home/SOHO-network thresholds.
func DefaultHeuristicDeviceAnomalyScorer() *HeuristicDeviceAnomalyScorer {
	return &HeuristicDeviceAnomalyScorer{
		UniqueDestIPThreshold: 50,
		UniquePortThreshold:   20,
		UniqueDomainThreshold: 30,
		ByteVolumeThreshold:   500 * 1024 * 1024,
	}
}

// Score implements DeviceAnomalyScorer.
func (h *HeuristicDeviceAnomalyScorer) Score(_ context.Context, deviceID string, records Records) (Result, error) {
	f := extractDeviceFeatures(records)

	var score float64
	var reasons []string

	if f.connectionCount == 0 {
		return Result{Score: 0, Reasons: nil, Evidence: map[string]interface{}{"connection_count": 0}}, nil
	}

	if len(f.uniqueDestIPs) > h.UniqueDestIPThreshold {
		score += 0.3
		reasons = append(reasons, "unusually many distinct destination IPs")
	}
	if len(f.uniquePorts) > h.UniquePortThreshold {
		score += 0.25
		reasons = append(reasons, "unusually many distinct destination ports")
	}
	if len(f.uniqueDomains) > h.UniqueDomainThreshold {
		score += 0.25
		reasons = append(reasons, "unusually many distinct domains queried")
	}
	total := f.bytesToServer + f.bytesToClient
	if total > h.ByteVolumeThreshold {
		score += 0.2
		reasons = append(reasons, "unusually high byte volume")
	}

	if score > 1 {
		score = 1
	}

	return Result{
		Score:   score,
		Reasons: reasons,
		Evidence: map[string]interface{}{
			"device_id":          deviceID,
			"connection_count":   f.connectionCount,
			"unique_dest_ips":    len(f.uniqueDestIPs),
			"unique_ports":       len(f.uniquePorts),
			"dns_query_count":    f.dnsQueryCount,
			"unique_domains":     len(f.uniqueDomains),
			"bytes_to_server":    f.bytesToServer,
			"bytes_to_client":    f.bytesToClient,
			"protocol_distribution": f.protoCounts,
		},
	}, nil
}

// HeuristicDomainRiskScorer is the default, deterministic DomainRiskScorer:
// it combines lexical features of the domain string (length, label count,
// entropy, TLD, digit ratio) that correlate with DGA/algorithmically
// generated domains.
type HeuristicDomainRiskScorer struct {
	SuspiciousTLDs map[string]struct{}
}

// DefaultHeuristicDomainRiskScorer returns a scorer with a small built-in
// suspicious-TLD table, commonly abused by low-cost bulk registrars.
func DefaultHeuristicDomainRiskScorer() *HeuristicDomainRiskScorer {
	return &HeuristicDomainRiskScorer{
		SuspiciousTLDs: map[string]struct{}{
			"xyz": {}, "top": {}, "club": {}, "gq": {}, "tk": {}, "ml": {}, "cf": {}, "ga": {},
		},
	}
}

// Score implements DomainRiskScorer. The records parameter is consumed for
// its occurrence count and connection metadata but the primary signal is
// lexical.
func (h *HeuristicDomainRiskScorer) Score(_ context.Context, domain string, records Records) (Result, error) {
	occurrences := 0
	for {
		_, ok := records.Next()
		if !ok {
			break
		}
		occurrences++
	}

	labels := strings.Split(domain, ".")
	length := len(domain)
	labelCount := len(labels)
	tld := ""
	if labelCount > 0 {
		tld = strings.ToLower(labels[labelCount-1])
	}
	entropy := shannonEntropy(domain)
	digitRatio := digitRatio(domain)

	var score float64
	var reasons []string

	if length > 40 {
		score += 0.2
		reasons = append(reasons, "unusually long domain name")
	}
	if labelCount > 4 {
		score += 0.15
		reasons = append(reasons, "unusually many labels")
	}
	if entropy > 3.5 {
		score += 0.35
		reasons = append(reasons, "high character entropy, consistent with algorithmically generated domains")
	}
	if digitRatio > 0.3 {
		score += 0.15
		reasons = append(reasons, "high digit ratio")
	}
	if _, bad := h.SuspiciousTLDs[tld]; bad {
		score += 0.15
		reasons = append(reasons, "registered under a commonly abused TLD")
	}

	if score > 1 {
		score = 1
	}

	return Result{
		Score:   score,
		Reasons: reasons,
		Evidence: map[string]interface{}{
			"domain":      domain,
			"length":      length,
			"label_count": labelCount,
			"entropy":     entropy,
			"tld":         tld,
			"digit_ratio": digitRatio,
			"occurrences": occurrences,
		},
	}, nil
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func digitRatio(s string) float64 {
	if s == "" {
		return 0
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return float64(digits) / float64(len(s))
}
