package health

import "fmt"

// Metrics is the raw snapshot of inventory and event counts a scoring pass
// starts from.
type Metrics struct {
	TotalDevices    int
	UnknownDevices  int
	UntaggedDevices int
	HighRiskDevices int

	HighAnomalies24h  int
	IntelMatches24h   int
	IntelMatches7d    int
	SuricataAlerts24h int
	CriticalEvents7d  int
	NewDevices7d      int
}

// tier is the threshold step function behind each penalty: a count below
// low contributes nothing, [low, mid) contributes 30% of the max penalty,
// [mid, high) contributes 60%, and at/above high contributes the full
// 100%. mid is the midpoint between low and high.
func tier(count float64, low, high float64) float64 {
	if high <= low {
		high = low + 1
	}
	mid := (low + high) / 2
	switch {
	case count < low:
		return 0
	case count < mid:
		return 0.3
	case count < high:
		return 0.6
	default:
		return 1.0
	}
}

func clampPenalty(penalty, maxPenalty float64) float64 {
	if penalty < maxPenalty {
		return maxPenalty
	}
	if penalty > 0 {
		return 0
	}
	return penalty
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func ratio(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total)
}

func inventoryScore(m Metrics, low, high float64) float64 {
	unknownPenalty := -30 * ratio(m.UnknownDevices, m.TotalDevices) * tier(float64(m.UnknownDevices), low, high)
	untaggedPenalty := -20 * ratio(m.UntaggedDevices, m.TotalDevices) * tier(float64(m.UntaggedDevices), low, high)
	highRiskPenalty := -50 * ratio(m.HighRiskDevices, m.TotalDevices) * tier(float64(m.HighRiskDevices), low, high)
	return clampScore(100 + unknownPenalty + untaggedPenalty + highRiskPenalty)
}

func threatScore(m Metrics) float64 {
	penalty := clampPenalty(-5*float64(m.HighAnomalies24h), -40)
	penalty += clampPenalty(-10*float64(m.IntelMatches24h), -30)
	penalty += clampPenalty(-2*float64(m.IntelMatches7d), -20)
	penalty += clampPenalty(-1*float64(m.SuricataAlerts24h), -10)
	penalty += clampPenalty(-5*float64(m.CriticalEvents7d), -20)
	return clampScore(100 + penalty)
}

func changeScore(m Metrics, highRiskChanges int) float64 {
	penalty := clampPenalty(-5*float64(m.NewDevices7d), -30)
	penalty += clampPenalty(-10*float64(highRiskChanges), -70)
	return clampScore(100 + penalty)
}

func hygieneScore(h Hygiene) float64 {
	score := 0.0
	if h.BackupsOK {
		score += 40
	}
	if h.UpdatesCurrent {
		score += 40
	}
	if h.FirewallEnabled {
		score += 20
	}
	return clampScore(score)
}

func gradeFor(composite int) string {
	switch {
	case composite >= 90:
		return "A"
	case composite >= 80:
		return "B"
	case composite >= 70:
		return "C"
	case composite >= 60:
		return "D"
	default:
		return "F"
	}
}

const (
	weightInventory = 0.25
	weightThreat    = 0.35
	weightChange    = 0.20
	weightHygiene   = 0.20
)

// Score computes the weighted composite health score and its grade.
// highRiskChanges would count devices whose risk score crossed into the
// high-risk band since the last tick; the device store does not track
// historical risk-score deltas, so the current high-risk device count
// stands in as a conservative proxy.
func Score(m Metrics, h Hygiene, low, high float64) Report {
	inv := inventoryScore(m, low, high)
	threat := threatScore(m)
	change := changeScore(m, m.HighRiskDevices)
	hyg := hygieneScore(h)

	composite := roundComposite(weightInventory*inv + weightThreat*threat + weightChange*change + weightHygiene*hyg)
	grade := gradeFor(composite)

	return Report{
		Composite: composite,
		Grade:     grade,
		Inventory: inv,
		Threat:    threat,
		Change:    change,
		Hygiene:   hyg,
		Metrics: map[string]int{
			"total_devices":       m.TotalDevices,
			"unknown_devices":     m.UnknownDevices,
			"untagged_devices":    m.UntaggedDevices,
			"high_risk_devices":   m.HighRiskDevices,
			"high_anomalies_24h":  m.HighAnomalies24h,
			"intel_matches_24h":   m.IntelMatches24h,
			"intel_matches_7d":    m.IntelMatches7d,
			"suricata_alerts_24h": m.SuricataAlerts24h,
			"critical_events_7d":  m.CriticalEvents7d,
			"new_devices_7d":      m.NewDevices7d,
		},
		Recommendations: recommendations(m, inv, threat, change, hyg),
	}
}

// recommendations picks the component with the largest realized penalty
// and renders a templated suggestion for it.
func recommendations(m Metrics, inv, threat, change, hyg float64) []string {
	type component struct {
		name    string
		penalty float64
	}
	components := []component{
		{"inventory", 100 - inv},
		{"threat", 100 - threat},
		{"change", 100 - change},
		{"hygiene", 100 - hyg},
	}

	worst := components[0]
	for _, c := range components[1:] {
		if c.penalty > worst.penalty {
			worst = c
		}
	}

	if worst.penalty <= 0 {
		return nil
	}

	switch worst.name {
	case "inventory":
		var recs []string
		if m.UnknownDevices > 0 {
			recs = append(recs, fmt.Sprintf("Tag %d unknown devices", m.UnknownDevices))
		}
		if m.UntaggedDevices > 0 {
			recs = append(recs, fmt.Sprintf("Tag %d untagged devices", m.UntaggedDevices))
		}
		if m.HighRiskDevices > 0 {
			recs = append(recs, fmt.Sprintf("Review %d high-risk devices", m.HighRiskDevices))
		}
		return recs
	case "threat":
		return []string{"Investigate recent threat-intel matches and device anomalies"}
	case "change":
		return []string{fmt.Sprintf("Review %d newly observed devices from the last 7 days", m.NewDevices7d)}
	case "hygiene":
		return []string{"Confirm backups, updates, and firewall status"}
	default:
		return nil
	}
}
