package equipment

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits bounds what an upload may contain.
type Limits struct {
	// MaxBytes caps the file size; 0 means unlimited.
	MaxBytes int64
	// MaxRows caps data rows; 0 means unlimited.
	MaxRows int
}

// DefaultLimits mirrors the service defaults: 10 MB and 20000 rows.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 10 << 20, MaxRows: 20000}
}

// ValidationError reports an upload that breaks one of the ingestion rules.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Ingest validates an uploaded CSV and returns its rows. Numeric cells must
// parse; empty cells are kept as missing values.
func Ingest(r io.Reader, filename string, size int64, lim Limits) ([]Row, error) {
	if lim.MaxBytes > 0 && size > lim.MaxBytes {
		return nil, invalid("File too large. Max size is %dMB.", lim.MaxBytes>>20)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return nil, invalid("Invalid file format. Only CSV allowed.")
	}
	rows, err := readRows(r, true, lim.MaxRows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalid("CSV file is empty.")
	}
	return rows, nil
}

// IngestFile is Ingest for an on-disk file.
func IngestFile(path string, lim Limits) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat csv: %w", err)
	}
	return Ingest(f, filepath.Base(path), info.Size(), lim)
}

// LoadTable reads a stored CSV leniently: unparsable numbers and absent
// metric columns become missing values instead of errors.
func LoadTable(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return readRows(f, false, 0)
}

func readRows(src io.Reader, strict bool, maxRows int) ([]Row, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			if strict {
				return nil, invalid("CSV file is empty or invalid.")
			}
			return nil, nil
		}
		if strict {
			return nil, invalid("Failed to parse CSV file.")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	if strict {
		var missing []string
		for _, c := range RequiredColumns {
			if _, ok := idx[c]; !ok {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return nil, invalid("Missing required columns: %s", strings.Join(missing, ", "))
		}
	}
	cell := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if strict {
				return nil, invalid("Failed to parse CSV file.")
			}
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, invalid("File contains more than %d rows. Maximum allowed is %d.", maxRows, maxRows)
		}
		row := Row{Name: cell(rec, ColName), Type: cell(rec, ColType)}
		for _, m := range Metrics {
			raw := cell(rec, m.Column())
			if raw == "" || isMissingToken(raw) {
				continue
			}
			v, ok := parseNumeric(raw)
			if !ok {
				if strict {
					return nil, invalid("Column '%s' must contain numeric data.", m.Column())
				}
				continue
			}
			row.set(m, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *Row) set(m Metric, v float64) {
	p := new(float64)
	*p = v
	switch m {
	case Flowrate:
		r.Flowrate = p
	case Pressure:
		r.Pressure = p
	case Temperature:
		r.Temperature = p
	}
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
