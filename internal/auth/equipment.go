package auth

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fleetpulse/internal/normalize"
)

var equipmentKeys = []string{"equipmentId", "equipment_id", "equipmentID"}

// EquipmentID finds the sender's equipment id. It looks at the body field,
// then the custom header, then the first row of a batch, then the first data
// line of an embedded CSV payload.
func EquipmentID(header http.Header, body []byte) string {
	var doc any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &doc)
	}
	obj, _ := doc.(map[string]any)
	if id := stringField(obj, equipmentKeys...); id != "" {
		return id
	}
	if id := strings.TrimSpace(header.Get(HeaderEquipmentID)); id != "" {
		return id
	}
	if id := firstBatchRow(doc); id != "" {
		return id
	}
	if csvData := stringField(obj, "csvData", "csv_data", "csv"); csvData != "" {
		return firstCSVEquipment(csvData)
	}
	return ""
}

func firstBatchRow(doc any) string {
	var rows []any
	switch v := doc.(type) {
	case []any:
		rows = v
	case map[string]any:
		for _, key := range []string{"readings", "data", "rows"} {
			if list, ok := v[key].([]any); ok {
				rows = list
				break
			}
		}
	}
	if len(rows) == 0 {
		return ""
	}
	first, _ := rows[0].(map[string]any)
	return stringField(first, equipmentKeys...)
}

// firstCSVEquipment reads the equipment id of the first data line, using the
// same header detection as the CSV import so both agree on which line that is.
func firstCSVEquipment(data string) string {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var cols []string
	for {
		record, err := r.Read()
		if err != nil {
			return ""
		}
		if blank(record) {
			continue
		}
		if cols == nil && normalize.LooksLikeHeader(record) {
			cols = normalize.HeaderColumns(record)
			continue
		}
		if cols == nil {
			cols = normalize.DefaultColumns
		}
		for i, name := range cols {
			if name == "equipmentid" && i < len(record) {
				return strings.TrimSpace(record[i])
			}
		}
		return ""
	}
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func stringField(obj map[string]any, keys ...string) string {
	if obj == nil {
		return ""
	}
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return fmt.Sprint(t)
		}
	}
	return ""
}
