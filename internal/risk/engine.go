package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"ids-guard/internal/model"
)

// ErrNoAlerts is returned by Analyze when the address appears in no alert.
var ErrNoAlerts = errors.New("no alerts for address")

// DefaultTopRisks is the number of profiles TopRisks returns when limit <= 0.
const DefaultTopRisks = 10

var severityWeights = map[int]float64{
	1: 0.9,
	2: 0.7,
	3: 0.4,
	4: 0.2,
}

const defaultWeight = 0.1

// Weight maps an alert severity to its risk contribution.
func Weight(severity int) float64 {
	if w, ok := severityWeights[severity]; ok {
		return w
	}
	return defaultWeight
}

// Score is the mean severity weight of the alerts involving ip, capped at 1
// and rounded to three decimals. No alerts scores 0.
func Score(alerts []model.AlertRecord, ip string) float64 {
	var sum float64
	count := 0
	for _, a := range alerts {
		if !a.Involves(ip) {
			continue
		}
		sum += Weight(a.Severity)
		count++
	}
	if count == 0 {
		return 0
	}
	return Round3(math.Min(sum/float64(count), 1.0))
}

// Level buckets a score; lower bounds are inclusive.
func Level(score float64) model.ThreatLevel {
	switch {
	case score >= 0.8:
		return model.ThreatCritical
	case score >= 0.6:
		return model.ThreatHigh
	case score >= 0.4:
		return model.ThreatMedium
	case score >= 0.2:
		return model.ThreatLow
	default:
		return model.ThreatMinimal
	}
}

func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Profile builds the RiskProfile of ip from the alert set.
func Profile(alerts []model.AlertRecord, ip string) model.RiskProfile {
	score := Score(alerts, ip)
	p := model.RiskProfile{
		IP:          ip,
		Country:     model.UnknownCountry,
		RiskScore:   score,
		ThreatLevel: Level(score),
		Category:    "Unknown",
	}
	for _, a := range alerts {
		if a.Involves(ip) {
			accumulate(&p, a, ip)
		}
	}
	return p
}

// TopRisks profiles every address seen in the alerts and returns the riskiest,
// highest score first. Ties keep first-seen order.
func TopRisks(alerts []model.AlertRecord, limit int) []model.RiskProfile {
	if limit <= 0 {
		limit = DefaultTopRisks
	}

	var order []string
	profiles := make(map[string]*model.RiskProfile)
	for _, a := range alerts {
		for _, ip := range endpoints(a) {
			p, ok := profiles[ip]
			if !ok {
				p = &model.RiskProfile{IP: ip, Country: model.UnknownCountry}
				profiles[ip] = p
				order = append(order, ip)
			}
			accumulate(p, a, ip)
		}
	}

	out := make([]model.RiskProfile, 0, len(order))
	for _, ip := range order {
		p := profiles[ip]
		p.RiskScore = Score(alerts, ip)
		p.ThreatLevel = Level(p.RiskScore)
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Statistics summarizes the risk of every address seen in the alerts.
func Statistics(alerts []model.AlertRecord) model.RiskStatistics {
	stats := model.RiskStatistics{ThreatLevels: make(map[model.ThreatLevel]int, len(model.ThreatLevels))}
	for _, level := range model.ThreatLevels {
		stats.ThreatLevels[level] = 0
	}

	seen := make(map[string]struct{})
	var total float64
	for _, a := range alerts {
		for _, ip := range endpoints(a) {
			if _, ok := seen[ip]; ok {
				continue
			}
			seen[ip] = struct{}{}
			score := Score(alerts, ip)
			total += score
			stats.ThreatLevels[Level(score)]++
		}
	}

	stats.TotalIPs = len(seen)
	if stats.TotalIPs > 0 {
		stats.AverageRiskScore = Round3(total / float64(stats.TotalIPs))
	}
	return stats
}

// Analyze breaks the risk of ip down per alert category.
func Analyze(alerts []model.AlertRecord, ip string) (*model.IPAnalysis, error) {
	var involved []model.AlertRecord
	for _, a := range alerts {
		if a.Involves(ip) {
			involved = append(involved, a)
		}
	}
	if len(involved) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAlerts, ip)
	}

	profile := Profile(alerts, ip)
	analysis := &model.IPAnalysis{
		IP:              ip,
		Country:         profile.Country,
		ConnectionCount: len(involved),
		RiskScore:       profile.RiskScore,
		ThreatLevel:     profile.ThreatLevel,
		RiskFactors:     []model.RiskFactor{},
	}

	var categories []string
	byCategory := make(map[string][]model.AlertRecord)
	for _, a := range involved {
		analysis.SuspiciousActivities = append(analysis.SuspiciousActivities, a.AttackType)
		if a.Category == "" {
			continue
		}
		if _, ok := byCategory[a.Category]; !ok {
			categories = append(categories, a.Category)
		}
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}

	for _, category := range categories {
		group := byCategory[category]
		var points float64
		for _, a := range group {
			points += float64(5 - severityOrLowest(a.Severity))
		}
		analysis.RiskFactors = append(analysis.RiskFactors, model.RiskFactor{
			Name:        category,
			Description: fmt.Sprintf("Activity related to %s", category),
			Score:       Round3(points / float64(len(group)) / 5),
			Confidence:  Round3(float64(len(group)) / float64(len(involved))),
		})
	}
	return analysis, nil
}

func accumulate(p *model.RiskProfile, a model.AlertRecord, ip string) {
	p.AlertCount++
	if later(a.Timestamp, p.LastSeen) {
		p.LastSeen = a.Timestamp
	}
	if a.Category != "" {
		p.Category = a.Category
	} else {
		p.Category = "Unknown"
	}
	if a.SrcIP == ip && a.Country != "" && a.Country != model.UnknownCountry {
		p.Country = a.Country
	}
}

func endpoints(a model.AlertRecord) []string {
	var ips []string
	if a.SrcIP != "" {
		ips = append(ips, a.SrcIP)
	}
	if a.DestIP != "" && a.DestIP != a.SrcIP {
		ips = append(ips, a.DestIP)
	}
	return ips
}

// severityOrLowest treats a missing severity as the lowest one, 4.
func severityOrLowest(severity int) int {
	if severity == 0 {
		return 4
	}
	return severity
}

func later(candidate, current string) bool {
	if current == "" {
		return true
	}
	ct, cerr := model.ParseTimestamp(candidate)
	pt, perr := model.ParseTimestamp(current)
	if cerr == nil && perr == nil {
		return ct.After(pt)
	}
	return candidate > current
}
