package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ids-guard/internal/model"
)

const captureAttackType = "NA"

// CaptureSource is one capture summary, identified for processed-set tracking.
type CaptureSource interface {
	ID() string
	// Records returns at most limit records; limit <= 0 means no cap.
	Records(ctx context.Context, limit int) ([]model.NormalizedRecord, error)
}

// CaptureLister enumerates the capture sources currently available.
type CaptureLister interface {
	Sources(ctx context.Context) ([]CaptureSource, error)
}

// CSVCaptureDir lists capture summary files matching a glob in one directory.
type CSVCaptureDir struct {
	dir     string
	pattern string
}

func NewCSVCaptureDir(dir, pattern string) *CSVCaptureDir {
	if pattern == "" {
		pattern = "*.csv"
	}
	return &CSVCaptureDir{dir: dir, pattern: pattern}
}

// Sources returns the matching files in lexical order.
func (d *CSVCaptureDir) Sources(ctx context.Context) ([]CaptureSource, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, d.pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid capture pattern %q: %w", d.pattern, err)
	}
	sort.Strings(matches)

	sources := make([]CaptureSource, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, &CSVCapture{path: m})
	}
	return sources, nil
}

// CSVCapture is a capture summary exported as CSV with a header row.
type CSVCapture struct {
	path string
}

func NewCSVCapture(path string) *CSVCapture {
	return &CSVCapture{path: path}
}

func (c *CSVCapture) ID() string {
	return c.path
}

var captureColumns = map[string][]string{
	"src_ip":    {"src_ip", "source", "src", "ip.src"},
	"dest_ip":   {"dest_ip", "destination", "dst", "dst_ip", "ip.dst"},
	"dest_port": {"dest_port", "dport", "dst_port", "port"},
	"proto":     {"proto", "protocol"},
	"timestamp": {"timestamp", "time", "ts"},
}

func (c *CSVCapture) Records(ctx context.Context, limit int) ([]model.NormalizedRecord, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, c.path)
		}
		return nil, err
	}
	defer f.Close()

	return readCaptureCSV(ctx, f, limit)
}

func readCaptureCSV(ctx context.Context, r io.Reader, limit int) ([]model.NormalizedRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	index := columnIndex(header)

	var records []model.NormalizedRecord
	for limit <= 0 || len(records) < limit {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a broken row ends the summary, the rows read so far stay usable
			return records, nil
		}

		record := model.NormalizedRecord{
			SrcIP:      field(row, index, "src_ip"),
			DestIP:     field(row, index, "dest_ip"),
			Proto:      field(row, index, "proto"),
			AttackType: captureAttackType,
			Timestamp:  field(row, index, "timestamp"),
		}
		if record.Proto == "" {
			record.Proto = defaultProto
		}
		if port, err := strconv.Atoi(field(row, index, "dest_port")); err == nil {
			record.DestPort = port
		}
		records = append(records, record)
	}
	return records, nil
}

func columnIndex(header []string) map[string]int {
	index := make(map[string]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for column, aliases := range captureColumns {
			if _, seen := index[column]; seen {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					index[column] = i
					break
				}
			}
		}
	}
	return index
}

func field(row []string, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
