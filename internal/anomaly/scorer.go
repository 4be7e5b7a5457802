package anomaly

import (
	"sort"

	"ids-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of scoring one batch.
type Result struct {
	Records []model.NormalizedRecord
	// Candidates are distinct anomalous source IPs in first-appearance order.
	Candidates []string
	Scored     int
	Anomalous  int
}

// Detector labels each point LabelNormal or LabelAnomalous.
type Detector interface {
	FitPredict(points [][]float64) []int
}

type Scorer struct {
	forest    Detector
	whitelist *Whitelist
	logger    *logrus.Logger
}

func NewScorer(forest Detector, whitelist *Whitelist, logger *logrus.Logger) *Scorer {
	if whitelist == nil {
		whitelist = NewStaticWhitelist(nil)
	}
	return &Scorer{
		forest:    forest,
		whitelist: whitelist,
		logger:    logger,
	}
}

// AssignProtoCodes sets ProtoCode to the index of each record's protocol in
// the sorted set of protocols present in the batch.
func AssignProtoCodes(records []model.NormalizedRecord) {
	seen := make(map[string]struct{})
	var protos []string
	for _, r := range records {
		if _, ok := seen[r.Proto]; !ok {
			seen[r.Proto] = struct{}{}
			protos = append(protos, r.Proto)
		}
	}
	sort.Strings(protos)

	codes := make(map[string]int, len(protos))
	for i, p := range protos {
		codes[p] = i
	}
	for i := range records {
		records[i].ProtoCode = codes[records[i].Proto]
	}
}

// Score labels records in place. Whitelisted sources keep a nil label and the
// label of every other record is the one last produced for its source IP.
func (s *Scorer) Score(records []model.NormalizedRecord) Result {
	AssignProtoCodes(records)

	var points [][]float64
	var scoredIdx []int
	for i, r := range records {
		if s.whitelist.Contains(r.SrcIP) {
			continue
		}
		points = append(points, []float64{float64(r.DestPort), float64(r.ProtoCode)})
		scoredIdx = append(scoredIdx, i)
	}

	labels := s.forest.FitPredict(points)

	bySource := make(map[string]int, len(scoredIdx))
	for j, i := range scoredIdx {
		bySource[records[i].SrcIP] = labels[j]
	}

	result := Result{Records: records, Scored: len(scoredIdx)}
	candidateSeen := make(map[string]struct{})
	for i := range records {
		records[i].Anomaly = nil
		label, ok := bySource[records[i].SrcIP]
		if !ok || s.whitelist.Contains(records[i].SrcIP) {
			continue
		}
		l := label
		records[i].Anomaly = &l
		if label != model.LabelAnomalous {
			continue
		}
		result.Anomalous++
		if _, dup := candidateSeen[records[i].SrcIP]; !dup {
			candidateSeen[records[i].SrcIP] = struct{}{}
			result.Candidates = append(result.Candidates, records[i].SrcIP)
		}
	}

	if s.logger != nil {
		s.logger.Debugf("[Scorer] scored %d records, %d anomalous, %d candidate IPs",
			result.Scored, result.Anomalous, len(result.Candidates))
	}
	return result
}
