package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
)

// DefaultMaxRows caps a single import when the caller passes no limit.
const DefaultMaxRows = 1000

// Recipient is one deliverable row of a campaign CSV. Fields holds every
// other column (header -> value) for template data.
type Recipient struct {
	Email  string
	Fields map[string]string
}

// SkippedRow records why a data row was not imported. Line is 1-based and
// counts the header.
type SkippedRow struct {
	Line   int
	Reason string
}

type Recipients struct {
	Rows    []Recipient
	Skipped []SkippedRow
}

// ParseRecipients reads a CSV whose header contains an "Email" column
// (case-insensitive). Rows that fail to parse or carry an unusable address
// are reported in Skipped rather than failing the import.
func ParseRecipients(r io.Reader, maxRows int) (*Recipients, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	emailIdx := -1
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		normalized[i] = h
		if strings.EqualFold(h, "email") {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv must contain an Email column")
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	out := &Recipients{}
	seen := make(map[string]struct{})
	line := 1

	for len(out.Rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "malformed row"})
				continue
			}
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		if len(record) != len(headers) {
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "column count mismatch"})
			continue
		}

		addr, err := mail.ParseAddress(strings.TrimSpace(record[emailIdx]))
		if err != nil {
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "invalid email address"})
			continue
		}

		key := strings.ToLower(addr.Address)
		if _, dup := seen[key]; dup {
			out.Skipped = append(out.Skipped, SkippedRow{Line: line, Reason: "duplicate email address"})
			continue
		}
		seen[key] = struct{}{}

		fields := make(map[string]string, len(headers)-1)
		for i := range record {
			if i == emailIdx || normalized[i] == "" {
				continue
			}
			fields[normalized[i]] = strings.TrimSpace(record[i])
		}

		out.Rows = append(out.Rows, Recipient{
			Email:  addr.Address,
			Fields: fields,
		})
	}

	if len(out.Rows) == 0 {
		return nil, errors.New("csv must contain at least one valid recipient")
	}

	return out, nil
}
