package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fleetpulse/internal/normalize"
)

var errValueNotNumber = errors.New("value must be a JSON number or null")

// ParseJSONReading decodes one reading object. Keys match case-insensitively
// and accept snake_case aliases.
func ParseJSONReading(data []byte) (normalize.ReadingFields, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return normalize.ReadingFields{}, fmt.Errorf("decode reading: %w", err)
	}
	return ParseJSONMap(obj)
}

func ParseJSONMap(obj map[string]json.RawMessage) (normalize.ReadingFields, error) {
	lower := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		lower[strings.ToLower(k)] = v
	}
	fields := normalize.ReadingFields{
		EquipmentID: firstString(lower, "equipmentid", "equipment_id"),
		SensorType:  firstString(lower, "sensortype", "sensor_type", "sensor"),
		Unit:        firstString(lower, "unit"),
		Timestamp:   firstString(lower, "timestamp", "time", "ts"),
		OrgID:       firstString(lower, "orgid", "org_id"),
		Status:      firstString(lower, "status"),
	}
	if raw, ok := lower["value"]; ok {
		v, err := decodeValue(raw)
		if err != nil {
			return fields, err
		}
		fields.Value = v
	}
	return fields, nil
}

// decodeValue accepts only a JSON number or null. Numeric strings are
// rejected rather than coerced.
func decodeValue(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return nil, errValueNotNumber
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, normalize.ErrNonFiniteValue
	}
	if !normalize.IsFinite(v) {
		return nil, normalize.ErrNonFiniteValue
	}
	return &v, nil
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		var s string
		if raw[0] == '"' {
			if err := json.Unmarshal(raw, &s); err != nil {
				continue
			}
		} else {
			s = string(raw)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// splitBatch returns the reading objects of a batch body: either a top-level
// array or an object holding one under readings, data or rows.
func splitBatch(body []byte) ([]json.RawMessage, error) {
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		return nil, errors.New("empty body")
	}
	var rows []json.RawMessage
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &rows); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return rows, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trim, &obj); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	for _, key := range []string{"readings", "data", "rows"} {
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			return rows, nil
		}
	}
	return nil, errors.New("batch must be an array or contain readings")
}
