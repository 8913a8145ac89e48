package normalize

import "strings"

// DefaultColumns is the CSV column order assumed when the input has no header.
var DefaultColumns = []string{"equipmentid", "sensortype", "value", "unit", "timestamp", "orgid", "status"}

// CanonicalColumn maps a CSV header cell onto one of DefaultColumns where it
// is a known alias.
func CanonicalColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "")
	switch name {
	case "equipment":
		return "equipmentid"
	case "sensor":
		return "sensortype"
	case "time", "ts":
		return "timestamp"
	case "org":
		return "orgid"
	}
	return name
}

// LooksLikeHeader reports whether a CSV record names any identifying column.
func LooksLikeHeader(record []string) bool {
	for _, v := range record {
		switch CanonicalColumn(v) {
		case "equipmentid", "sensortype", "value", "timestamp":
			return true
		}
	}
	return false
}

// HeaderColumns canonicalizes every cell of a header record.
func HeaderColumns(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = CanonicalColumn(v)
	}
	return out
}
