package conditioner

import (
	"math"
	"time"

	"fleetpulse/internal/model"
)

type Input struct {
	EquipmentID string
	SensorType  string
	Value       *float64
	Unit        string
	OrgID       string
}

type Result struct {
	ShouldKeep     bool     `json:"shouldKeep"`
	ProcessedValue *float64 `json:"processedValue"`
	Flags          []string `json:"flags"`
	EMA            *float64 `json:"ema,omitempty"`
}

func (r Result) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Evaluate applies the filter rules to one reading. It returns the state to
// persist, or nil when the reading must not touch state.
func Evaluate(cfg *model.SensorConfiguration, prev *model.SensorState, in Input, now time.Time) (Result, *model.SensorState) {
	if in.Value == nil {
		return Result{ShouldKeep: true, Flags: []string{model.FlagNullValue}}, nil
	}
	if cfg == nil {
		cfg = &model.SensorConfiguration{Enabled: true, Gain: 1}
	}
	if !cfg.Enabled {
		return Result{ShouldKeep: false, Flags: []string{model.FlagDisabled}}, nil
	}

	v := *in.Value*cfg.Gain + cfg.Offset
	flags := make([]string, 0, 2)
	if cfg.MinValid != nil && v < *cfg.MinValid {
		flags = append(flags, model.FlagBelowMin)
	}
	if cfg.MaxValid != nil && v > *cfg.MaxValid {
		flags = append(flags, model.FlagAboveMax)
	}

	next := &model.SensorState{
		EquipmentID:   in.EquipmentID,
		SensorType:    in.SensorType,
		OrgID:         in.OrgID,
		LastTimestamp: now,
	}

	if prev != nil && prev.LastValue != nil && cfg.Deadband != nil && *cfg.Deadband > 0 {
		if math.Abs(v-*prev.LastValue) < *cfg.Deadband {
			last := *prev.LastValue
			next.LastValue = &last
			next.EMA = copyFloat(prev.EMA)
			flags = append(flags, model.FlagDeadband)
			return Result{ShouldKeep: false, ProcessedValue: &last, Flags: flags, EMA: copyFloat(prev.EMA)}, next
		}
	}

	flags = append(flags, thresholdFlags(cfg, v)...)

	var ema *float64
	if cfg.EMAAlpha != nil && *cfg.EMAAlpha > 0 && *cfg.EMAAlpha < 1 {
		alpha := *cfg.EMAAlpha
		e := v
		if prev != nil && prev.EMA != nil {
			e = alpha*v + (1-alpha)*(*prev.EMA)
		}
		ema = &e
	}

	next.LastValue = &v
	next.EMA = copyFloat(ema)
	return Result{ShouldKeep: true, ProcessedValue: &v, Flags: flags, EMA: ema}, next
}

// thresholdFlags checks critical bounds first; a warning bound is only
// considered while the value sits outside the critical hysteresis band.
func thresholdFlags(cfg *model.SensorConfiguration, v float64) []string {
	var hyst float64
	if cfg.Hysteresis != nil && *cfg.Hysteresis > 0 {
		hyst = *cfg.Hysteresis
	}
	var out []string
	critHi := cfg.CritHi != nil && v >= *cfg.CritHi
	critLo := cfg.CritLo != nil && v <= *cfg.CritLo
	if critHi {
		out = append(out, model.FlagCritHi)
	}
	if critLo {
		out = append(out, model.FlagCritLo)
	}
	nearCritHi := cfg.CritHi != nil && v >= *cfg.CritHi-hyst
	nearCritLo := cfg.CritLo != nil && v <= *cfg.CritLo+hyst
	if !critHi && !nearCritHi && cfg.WarnHi != nil && v >= *cfg.WarnHi {
		out = append(out, model.FlagWarnHi)
	}
	if !critLo && !nearCritLo && cfg.WarnLo != nil && v <= *cfg.WarnLo {
		out = append(out, model.FlagWarnLo)
	}
	return out
}

// StatusFromFlags maps conditioner flags to a reading status.
func StatusFromFlags(flags []string, fallback model.Status) model.Status {
	warn := false
	for _, f := range flags {
		switch f {
		case model.FlagNullValue:
			return model.StatusOffline
		case model.FlagCritHi, model.FlagCritLo:
			return model.StatusCritical
		case model.FlagWarnHi, model.FlagWarnLo:
			warn = true
		}
	}
	if warn {
		return model.StatusWarning
	}
	if fallback == "" {
		return model.StatusNormal
	}
	return fallback
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
