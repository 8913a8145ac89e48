package engine

import (
	"strings"
)

type Direction int

const (
	HighIsBad Direction = iota
	LowIsBad
)

func (d Direction) String() string {
	if d == LowIsBad {
		return "low_is_bad"
	}
	return "high_is_bad"
}

// lowIsBad lists sensors where a falling value is the hazard.
var lowIsBad = []string{
	"flow",
	"flow_rate",
	"pressure",
	"level",
	"efficiency",
	"fuel_pressure",
	"oil_pressure",
	"tank_level",
	"coolant_level",
	"fuel_level",
	"voltage",
}

// NormalizeSensor lowercases and joins words with underscores.
func NormalizeSensor(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, s)
}

func catalogDirection(sensor string) Direction {
	name := "_" + NormalizeSensor(sensor) + "_"
	for _, entry := range lowIsBad {
		if strings.Contains(name, "_"+entry+"_") {
			return LowIsBad
		}
	}
	return HighIsBad
}

// InferDirection returns the direction for a sensor. When both thresholds
// are set their order wins over the catalog; mismatch reports true.
func InferDirection(sensor string, warning, critical *float64) (dir Direction, mismatch bool) {
	dir = catalogDirection(sensor)
	if warning == nil || critical == nil || *warning == *critical {
		return dir, false
	}
	byOrder := HighIsBad
	if *critical < *warning {
		byOrder = LowIsBad
	}
	return byOrder, byOrder != dir
}
