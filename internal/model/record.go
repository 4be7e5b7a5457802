package model

// UnknownCountry is assigned when a source address cannot be geolocated.
const UnknownCountry = "Unknown"

// Anomaly labels produced by the scorer.
const (
	LabelAnomalous = -1
	LabelNormal    = 1
)

// NormalizedRecord is the unified row produced from IDS events and capture summaries.
type NormalizedRecord struct {
	SrcIP      string `json:"src_ip"`
	DestIP     string `json:"dest_ip"`
	DestPort   int    `json:"dest_port"`
	Proto      string `json:"proto"`
	AttackType string `json:"attack_type"`
	Timestamp  string `json:"timestamp"`
	Country    string `json:"country"`
	ProtoCode  int    `json:"proto_code"`
	Anomaly    *int   `json:"anomaly"`
}

// RecordKey identifies duplicate records across sources.
type RecordKey struct {
	SrcIP      string
	DestIP     string
	DestPort   int
	Proto      string
	AttackType string
	Timestamp  string
}

func (r NormalizedRecord) Key() RecordKey {
	return RecordKey{
		SrcIP:      r.SrcIP,
		DestIP:     r.DestIP,
		DestPort:   r.DestPort,
		Proto:      r.Proto,
		AttackType: r.AttackType,
		Timestamp:  r.Timestamp,
	}
}

// IsAnomalous reports whether the record carries the anomalous label.
func (r NormalizedRecord) IsAnomalous() bool {
	return r.Anomaly != nil && *r.Anomaly == LabelAnomalous
}

// Involves reports whether ip is the source or destination of the record.
func (r NormalizedRecord) Involves(ip string) bool {
	return r.SrcIP == ip || r.DestIP == ip
}

// AlertRecord is an IDS alert event with the fields used for risk scoring.
// Severity is zero when the event did not carry one.
type AlertRecord struct {
	SrcIP       string `json:"src_ip"`
	SrcPort     int    `json:"src_port"`
	DestIP      string `json:"dest_ip"`
	DestPort    int    `json:"dest_port"`
	Proto       string `json:"proto"`
	AttackType  string `json:"attack_type"`
	Timestamp   string `json:"timestamp"`
	Category    string `json:"category,omitempty"`
	Severity    int    `json:"severity,omitempty"`
	SignatureID int    `json:"signature_id,omitempty"`
	Country     string `json:"country"`
}

func (a AlertRecord) Involves(ip string) bool {
	return a.SrcIP == ip || a.DestIP == ip
}
