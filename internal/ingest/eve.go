package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"ids-guard/internal/model"
)

const (
	eventAlert = "alert"
	eventFlow  = "flow"

	defaultProto          = "NA"
	flowAttackType        = "flow"
	unknownAlertSignature = "Unknown"
)

type eveEvent struct {
	EventType string    `json:"event_type"`
	SrcIP     string    `json:"src_ip"`
	SrcPort   *int      `json:"src_port"`
	DestIP    string    `json:"dest_ip"`
	DestPort  *int      `json:"dest_port"`
	Proto     *string   `json:"proto"`
	Timestamp string    `json:"timestamp"`
	Alert     *eveAlert `json:"alert"`
}

type eveAlert struct {
	Signature   *string `json:"signature"`
	Category    string  `json:"category"`
	Severity    int     `json:"severity"`
	SignatureID int     `json:"signature_id"`
}

// EveResult is everything extracted from one pass over the IDS stream.
type EveResult struct {
	Records     []model.NormalizedRecord
	Alerts      []model.AlertRecord
	ParseErrors int
}

// EveReader reads a Suricata-style eve.json file.
type EveReader struct {
	path string
}

func NewEveReader(path string) *EveReader {
	return &EveReader{path: path}
}

func (e *EveReader) Path() string {
	return e.path
}

// Read parses the whole file. A missing file returns ErrSourceUnavailable.
func (e *EveReader) Read() (*EveResult, error) {
	f, err := os.Open(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &EveResult{}, fmt.Errorf("%w: %s", ErrSourceUnavailable, e.path)
		}
		return &EveResult{}, fmt.Errorf("failed to open %s: %w", e.path, err)
	}
	defer f.Close()

	return ParseEve(f)
}

// ParseEve keeps alert and flow events. Malformed lines are counted and skipped.
// Alerts are returned newest first.
func ParseEve(r io.Reader) (*EveResult, error) {
	result := &EveResult{}
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			parseEveLine(line, result)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}
	}

	for i, j := 0, len(result.Alerts)-1; i < j; i, j = i+1, j-1 {
		result.Alerts[i], result.Alerts[j] = result.Alerts[j], result.Alerts[i]
	}
	return result, nil
}

func parseEveLine(line []byte, result *EveResult) {
	var ev eveEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		result.ParseErrors++
		return
	}
	if ev.EventType != eventAlert && ev.EventType != eventFlow {
		return
	}

	record := model.NormalizedRecord{
		SrcIP:      ev.SrcIP,
		DestIP:     ev.DestIP,
		Proto:      defaultProto,
		AttackType: flowAttackType,
		Timestamp:  ev.Timestamp,
	}
	if ev.DestPort != nil {
		record.DestPort = *ev.DestPort
	}
	if ev.Proto != nil {
		record.Proto = *ev.Proto
	}
	if ev.Alert != nil && ev.Alert.Signature != nil {
		record.AttackType = *ev.Alert.Signature
	}
	result.Records = append(result.Records, record)

	if ev.EventType != eventAlert {
		return
	}

	alert := model.AlertRecord{
		SrcIP:      ev.SrcIP,
		DestIP:     ev.DestIP,
		DestPort:   record.DestPort,
		AttackType: unknownAlertSignature,
		Timestamp:  ev.Timestamp,
		Country:    model.UnknownCountry,
	}
	if ev.SrcPort != nil {
		alert.SrcPort = *ev.SrcPort
	}
	if ev.Proto != nil {
		alert.Proto = *ev.Proto
	}
	if ev.Alert != nil {
		if ev.Alert.Signature != nil {
			alert.AttackType = *ev.Alert.Signature
		}
		alert.Category = ev.Alert.Category
		alert.Severity = ev.Alert.Severity
		alert.SignatureID = ev.Alert.SignatureID
	}
	result.Alerts = append(result.Alerts, alert)
}
