package feed

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

// ReadCatalog reads a historical catalog CSV with a header row and returns
// one catalog_row RawRecord per data row. Rows with the wrong column count are
// returned as errors and skipped.
func ReadCatalog(r io.Reader, provider string) ([]domain.RawRecord, []error, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	var (
		records []domain.RawRecord
		rowErrs []error
		now     = time.Now().UTC()
	)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, rowErrs, fmt.Errorf("read catalog line %d: %w", line, err)
		}
		if len(row) != len(header) {
			rowErrs = append(rowErrs, fmt.Errorf("catalog line %d: %d fields, header has %d", line, len(row), len(header)))
			continue
		}
		fields := make(map[string]string, len(header))
		for i, h := range header {
			fields[h] = row[i]
		}
		payload, err := json.Marshal(fields)
		if err != nil {
			return records, rowErrs, fmt.Errorf("encode catalog line %d: %w", line, err)
		}
		records = append(records, domain.RawRecord{
			Provider:   provider,
			Format:     domain.FormatCatalogRow,
			Payload:    payload,
			ReceivedAt: now,
		})
	}
	return records, rowErrs, nil
}
