package model

type ThreatLevel string

const (
	ThreatCritical ThreatLevel = "CRITICAL"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatLow      ThreatLevel = "LOW"
	ThreatMinimal  ThreatLevel = "MINIMAL"
)

// ThreatLevels lists every level from most to least severe.
var ThreatLevels = []ThreatLevel{ThreatCritical, ThreatHigh, ThreatMedium, ThreatLow, ThreatMinimal}

// RiskProfile is derived on demand from the current alert set.
type RiskProfile struct {
	IP          string      `json:"ip"`
	Country     string      `json:"country"`
	RiskScore   float64     `json:"risk_score"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	AlertCount  int         `json:"alert_count"`
	LastSeen    string      `json:"last_seen"`
	Category    string      `json:"category"`
}

type RiskStatistics struct {
	TotalIPs         int                 `json:"total_ips"`
	AverageRiskScore float64             `json:"average_risk_score"`
	ThreatLevels     map[ThreatLevel]int `json:"threat_levels"`
}

type RiskFactor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
}

type IPAnalysis struct {
	IP                   string       `json:"ip"`
	Country              string       `json:"country"`
	ConnectionCount      int          `json:"connection_count"`
	RiskScore            float64      `json:"risk_score"`
	ThreatLevel          ThreatLevel  `json:"threat_level"`
	RiskFactors          []RiskFactor `json:"risk_factors"`
	SuspiciousActivities []string     `json:"suspicious_activities"`
}
