package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"ids-guard/internal/model"
)

// ErrIPNotFound is returned by SearchIP when no record or alert touches the address.
var ErrIPNotFound = errors.New("ip not found in logs")

const (
	trendTopN        = 8
	trendReports     = 50
	topSignatures    = 5
	topThreats       = 5
	recentRecords    = 5
	perMinuteWindow  = 5 * time.Minute
	unknownCategory  = "Unknown"
	unknownSignature = "Unknown"
)

type CountItem struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Trends struct {
	AlertTypes []CountItem         `json:"alert_types"`
	Countries  []CountItem         `json:"countries"`
	Reports    []model.AlertRecord `json:"reports"`
}

type SignatureCount struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
}

type AlertStatistics struct {
	TotalAlerts      int              `json:"total_alerts"`
	AlertsByCategory map[string]int   `json:"alerts_by_category"`
	TopSignatures    []SignatureCount `json:"top_signatures"`
}

type DashboardStats struct {
	TotalAlerts      int `json:"total_alerts"`
	AnomalousRecords int `json:"anomalous_records"`
	RecentAlerts     int `json:"recent_alerts"`
	BlockedIPs       int `json:"blocked_ips"`
	LiveThreatCount  int `json:"live_threat_count"`
}

// Report summarizes the alerts of one window.
type Report struct {
	ReportType   Window      `json:"report_type"`
	GeneratedAt  time.Time   `json:"generated_at"`
	TotalAlerts  int         `json:"total_alerts"`
	HighSeverity int         `json:"high_severity"`
	BlockedIPs   int         `json:"blocked_ips"`
	TopThreats   []CountItem `json:"top_threats"`
}

type IPSearch struct {
	IP      string                   `json:"ip"`
	Records []model.NormalizedRecord `json:"records"`
	Alerts  []model.AlertRecord      `json:"alerts"`
}

// BuildTrends covers the last week: the most frequent attack types and
// countries, plus the first alerts of the window.
func BuildTrends(alerts []model.AlertRecord, now time.Time) Trends {
	weekly, _ := FilterByWindow(alerts, Weekly, now)

	types := make([]string, 0, len(weekly))
	countries := make([]string, 0, len(weekly))
	for _, a := range weekly {
		types = append(types, a.AttackType)
		if a.Country != "" {
			countries = append(countries, a.Country)
		}
	}

	reports := weekly
	if len(reports) > trendReports {
		reports = reports[:trendReports]
	}
	return Trends{
		AlertTypes: mostCommon(types, trendTopN),
		Countries:  mostCommon(countries, trendTopN),
		Reports:    reports,
	}
}

// Statistics counts every merged record and alert, groups alerts by category
// and ranks signatures.
func Statistics(records []model.NormalizedRecord, alerts []model.AlertRecord) AlertStatistics {
	stats := AlertStatistics{
		TotalAlerts:      len(records) + len(alerts),
		AlertsByCategory: make(map[string]int),
	}
	signatures := make([]string, 0, len(alerts))
	for _, a := range alerts {
		category := a.Category
		if category == "" {
			category = unknownCategory
		}
		stats.AlertsByCategory[category]++

		signature := a.AttackType
		if signature == "" {
			signature = unknownSignature
		}
		signatures = append(signatures, signature)
	}
	stats.TopSignatures = make([]SignatureCount, 0, topSignatures)
	for _, item := range mostCommon(signatures, topSignatures) {
		stats.TopSignatures = append(stats.TopSignatures, SignatureCount{Signature: item.Name, Count: item.Count})
	}
	return stats
}

func Dashboard(records []model.NormalizedRecord, alerts []model.AlertRecord, blocked int) DashboardStats {
	stats := DashboardStats{
		TotalAlerts:     len(records) + len(alerts),
		RecentAlerts:    min(recentRecords, len(records)),
		BlockedIPs:      blocked,
		LiveThreatCount: len(alerts),
	}
	for _, r := range records {
		if r.IsAnomalous() {
			stats.AnomalousRecords++
		}
	}
	return stats
}

// Generate builds the report for window w. Severity 1 and 2 count as high.
func Generate(w Window, alerts []model.AlertRecord, blocked int, now time.Time) (*Report, error) {
	filtered, err := FilterByWindow(alerts, w, now)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		ReportType:  w,
		GeneratedAt: now.UTC(),
		TotalAlerts: len(filtered),
		BlockedIPs:  blocked,
	}
	types := make([]string, 0, len(filtered))
	for _, a := range filtered {
		if a.Severity >= 1 && a.Severity <= 2 {
			rep.HighSeverity++
		}
		types = append(types, a.AttackType)
	}
	rep.TopThreats = mostCommon(types, topThreats)
	return rep, nil
}

// AlertsPerMinute averages the alerts of the last five minutes.
func AlertsPerMinute(alerts []model.AlertRecord, now time.Time) float64 {
	recent := since(alerts, now.Add(-perMinuteWindow))
	if len(recent) == 0 {
		return 0
	}
	return math.Round(float64(len(recent))/perMinuteWindow.Minutes()*100) / 100
}

// SearchIP returns every record and alert where ip is source or destination.
func SearchIP(records []model.NormalizedRecord, alerts []model.AlertRecord, ip string) (*IPSearch, error) {
	res := &IPSearch{
		IP:      ip,
		Records: []model.NormalizedRecord{},
		Alerts:  []model.AlertRecord{},
	}
	for _, r := range records {
		if r.Involves(ip) {
			res.Records = append(res.Records, r)
		}
	}
	for _, a := range alerts {
		if a.Involves(ip) {
			res.Alerts = append(res.Alerts, a)
		}
	}
	if len(res.Records) == 0 && len(res.Alerts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIPNotFound, ip)
	}
	return res, nil
}

// mostCommon ranks values by frequency; ties keep first-seen order.
func mostCommon(values []string, n int) []CountItem {
	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}
	items := make([]CountItem, 0, len(order))
	for _, v := range order {
		items = append(items, CountItem{Name: v, Count: counts[v]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Count > items[j].Count
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}
