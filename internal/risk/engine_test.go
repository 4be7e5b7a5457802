package risk

import (
	"errors"
	"testing"

	"ids-guard/internal/model"
)

func alert(src, dst string, severity int) model.AlertRecord {
	return model.AlertRecord{SrcIP: src, DestIP: dst, Severity: severity, AttackType: "sig", Timestamp: "2025-06-01T10:00:00.000000+0000"}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		alerts []model.AlertRecord
		ip     string
		want   float64
	}{
		{"no alerts", nil, "1.1.1.1", 0},
		{"unrelated alerts", []model.AlertRecord{alert("2.2.2.2", "3.3.3.3", 1)}, "1.1.1.1", 0},
		{"single critical", []model.AlertRecord{alert("1.1.1.1", "3.3.3.3", 1)}, "1.1.1.1", 0.9},
		{"as destination", []model.AlertRecord{alert("3.3.3.3", "1.1.1.1", 3)}, "1.1.1.1", 0.4},
		{"mean of weights", []model.AlertRecord{alert("1.1.1.1", "x", 1), alert("1.1.1.1", "x", 2)}, "1.1.1.1", 0.8},
		{"missing severity", []model.AlertRecord{alert("1.1.1.1", "x", 0)}, "1.1.1.1", 0.1},
		{"out of range severity", []model.AlertRecord{alert("1.1.1.1", "x", 9)}, "1.1.1.1", 0.1},
		{"rounded", []model.AlertRecord{alert("1.1.1.1", "x", 1), alert("1.1.1.1", "x", 1), alert("1.1.1.1", "x", 4)}, "1.1.1.1", 0.667},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.alerts, tt.ip); got != tt.want {
				t.Fatalf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreBounded(t *testing.T) {
	var alerts []model.AlertRecord
	for sev := -1; sev <= 6; sev++ {
		alerts = append(alerts, alert("1.1.1.1", "2.2.2.2", sev))
		got := Score(alerts, "1.1.1.1")
		if got < 0 || got > 1 {
			t.Fatalf("Score = %v outside [0, 1]", got)
		}
	}
}

func TestLevelBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  model.ThreatLevel
	}{
		{1.0, model.ThreatCritical},
		{0.8, model.ThreatCritical},
		{0.79999, model.ThreatHigh},
		{0.6, model.ThreatHigh},
		{0.59999, model.ThreatMedium},
		{0.4, model.ThreatMedium},
		{0.39999, model.ThreatLow},
		{0.2, model.ThreatLow},
		{0.19999, model.ThreatMinimal},
		{0, model.ThreatMinimal},
	}
	for _, tt := range tests {
		if got := Level(tt.score); got != tt.want {
			t.Errorf("Level(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestTopRisksOrdering(t *testing.T) {
	alerts := []model.AlertRecord{
		alert("10.0.0.1", "192.168.1.1", 4),
		alert("10.0.0.2", "192.168.1.1", 1),
		alert("10.0.0.3", "192.168.1.1", 2),
	}
	alerts[1].Country = "Germany"
	alerts[1].Category = "Attempted Admin"

	top := TopRisks(alerts, 2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].IP != "10.0.0.2" || top[0].RiskScore != 0.9 || top[0].ThreatLevel != model.ThreatCritical {
		t.Errorf("top[0] = %+v", top[0])
	}
	if top[0].Country != "Germany" || top[0].Category != "Attempted Admin" {
		t.Errorf("top[0] country/category = %q/%q", top[0].Country, top[0].Category)
	}
	if top[1].IP != "10.0.0.3" {
		t.Errorf("top[1] = %+v", top[1])
	}

	all := TopRisks(alerts, 0)
	if len(all) != 4 {
		t.Fatalf("default limit returned %d profiles, want 4", len(all))
	}
	for _, p := range all {
		if p.IP == "192.168.1.1" && p.AlertCount != 3 {
			t.Errorf("destination alert count = %d, want 3", p.AlertCount)
		}
	}
}

func TestTopRisksLastSeen(t *testing.T) {
	older := alert("10.0.0.1", "x", 1)
	older.Timestamp = "2025-06-01T09:00:00.000000+0000"
	newer := alert("10.0.0.1", "x", 1)
	newer.Timestamp = "2025-06-01T11:00:00.000000+0000"

	top := TopRisks([]model.AlertRecord{older, newer}, 1)
	if top[0].LastSeen != newer.Timestamp {
		t.Fatalf("LastSeen = %s, want %s", top[0].LastSeen, newer.Timestamp)
	}
}

func TestStatistics(t *testing.T) {
	alerts := []model.AlertRecord{
		alert("10.0.0.1", "10.0.0.2", 1),
		alert("10.0.0.3", "10.0.0.2", 4),
	}
	stats := Statistics(alerts)

	if stats.TotalIPs != 3 {
		t.Fatalf("TotalIPs = %d, want 3", stats.TotalIPs)
	}
	// 10.0.0.1=0.9, 10.0.0.2=(0.9+0.2)/2=0.55, 10.0.0.3=0.2
	if stats.AverageRiskScore != 0.55 {
		t.Errorf("AverageRiskScore = %v, want 0.55", stats.AverageRiskScore)
	}
	want := map[model.ThreatLevel]int{
		model.ThreatCritical: 1,
		model.ThreatHigh:     0,
		model.ThreatMedium:   1,
		model.ThreatLow:      1,
		model.ThreatMinimal:  0,
	}
	for level, n := range want {
		if stats.ThreatLevels[level] != n {
			t.Errorf("ThreatLevels[%s] = %d, want %d", level, stats.ThreatLevels[level], n)
		}
	}
}

func TestStatisticsEmpty(t *testing.T) {
	stats := Statistics(nil)
	if stats.TotalIPs != 0 || stats.AverageRiskScore != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.ThreatLevels) != 5 {
		t.Fatalf("threat levels = %v, want all five keys", stats.ThreatLevels)
	}
}

func TestAnalyze(t *testing.T) {
	a1 := alert("10.0.0.1", "x", 1)
	a1.Category = "Scan"
	a2 := alert("10.0.0.1", "x", 3)
	a2.Category = "Scan"
	a3 := alert("y", "10.0.0.1", 0)
	a3.Category = "Policy"
	a4 := alert("10.0.0.1", "x", 2)

	analysis, err := Analyze([]model.AlertRecord{a1, a2, a3, a4}, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if analysis.ConnectionCount != 4 || len(analysis.SuspiciousActivities) != 4 {
		t.Errorf("analysis = %+v", analysis)
	}
	if len(analysis.RiskFactors) != 2 {
		t.Fatalf("risk factors = %+v", analysis.RiskFactors)
	}
	scan := analysis.RiskFactors[0]
	// ((5-1) + (5-3)) / 2 / 5
	if scan.Name != "Scan" || scan.Score != 0.6 || scan.Confidence != 0.5 {
		t.Errorf("scan factor = %+v", scan)
	}
	policy := analysis.RiskFactors[1]
	// missing severity counts as 4
	if policy.Name != "Policy" || policy.Score != 0.2 || policy.Confidence != 0.25 {
		t.Errorf("policy factor = %+v", policy)
	}
}

func TestAnalyzeUnknownIP(t *testing.T) {
	_, err := Analyze([]model.AlertRecord{alert("1.1.1.1", "2.2.2.2", 1)}, "9.9.9.9")
	if !errors.Is(err, ErrNoAlerts) {
		t.Fatalf("err = %v, want ErrNoAlerts", err)
	}
}
