package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"fleetpulse/internal/normalize"
)

// CSVRow is one parsed data line. Err is set when the line could not be
// turned into fields; Line is 1-based within the input.
type CSVRow struct {
	Line   int
	Fields normalize.ReadingFields
	Err    error
}

// ParseCSV splits CSV text into rows. A first line naming known columns is
// treated as the header.
func ParseCSV(data string) ([]CSVRow, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	var (
		header []string
		rows   []CSVRow
		line   int
	)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rows = append(rows, CSVRow{Line: line, Err: err})
				continue
			}
			return rows, err
		}
		if isBlank(record) {
			continue
		}
		if header == nil && len(rows) == 0 && normalize.LooksLikeHeader(record) {
			header = normalize.HeaderColumns(record)
			continue
		}
		cols := header
		if cols == nil {
			cols = normalize.DefaultColumns
		}
		fields, err := assignFields(cols, record)
		rows = append(rows, CSVRow{Line: line, Fields: fields, Err: err})
	}
	if len(rows) == 0 {
		return nil, errors.New("csv contains no data rows")
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func assignFields(cols []string, record []string) (normalize.ReadingFields, error) {
	var fields normalize.ReadingFields
	for i, name := range cols {
		if i >= len(record) {
			break
		}
		value := strings.TrimSpace(record[i])
		switch name {
		case "equipmentid":
			fields.EquipmentID = value
		case "sensortype":
			fields.SensorType = value
		case "value":
			v, err := normalize.ParseValue(value)
			if err != nil {
				return fields, fmt.Errorf("value %q: %w", value, err)
			}
			fields.Value = v
		case "unit":
			fields.Unit = value
		case "timestamp":
			fields.Timestamp = value
		case "orgid":
			fields.OrgID = value
		case "status":
			fields.Status = value
		}
	}
	return fields, nil
}
