package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"ids-guard/internal/model"
)

var columns = []string{
	"src_ip", "dest_ip", "dest_port", "proto", "attack_type",
	"timestamp", "country", "proto_code", "anomaly",
}

// WriteCSV writes records with a header row. A missing anomaly label is an
// empty cell.
func WriteCSV(w io.Writer, records []model.NormalizedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, r := range records {
		anomaly := ""
		if r.Anomaly != nil {
			anomaly = strconv.Itoa(*r.Anomaly)
		}
		row := []string{
			r.SrcIP, r.DestIP, strconv.Itoa(r.DestPort), r.Proto, r.AttackType,
			r.Timestamp, r.Country, strconv.Itoa(r.ProtoCode), anomaly,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads what WriteCSV wrote. Columns are matched by header name.
func ReadCSV(r io.Reader) ([]model.NormalizedRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range columns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var out []model.NormalizedRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		get := func(name string) string {
			if i := index[name]; i < len(row) {
				return row[i]
			}
			return ""
		}

		rec := model.NormalizedRecord{
			SrcIP:      get("src_ip"),
			DestIP:     get("dest_ip"),
			Proto:      get("proto"),
			AttackType: get("attack_type"),
			Timestamp:  get("timestamp"),
			Country:    get("country"),
		}
		if rec.DestPort, err = strconv.Atoi(get("dest_port")); err != nil {
			return nil, fmt.Errorf("line %d: bad dest_port: %w", line, err)
		}
		if rec.ProtoCode, err = strconv.Atoi(get("proto_code")); err != nil {
			return nil, fmt.Errorf("line %d: bad proto_code: %w", line, err)
		}
		if v := get("anomaly"); v != "" {
			label, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad anomaly: %w", line, err)
			}
			rec.Anomaly = &label
		}
		out = append(out, rec)
	}
}
