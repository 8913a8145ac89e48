package model

import "time"

type AlertType string

const (
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
)

type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

const (
	ScheduleStatusScheduled = "scheduled"
)

// Conditioner flags.
const (
	FlagNullValue = "null_value"
	FlagDisabled  = "disabled"
	FlagBelowMin  = "below_min"
	FlagAboveMax  = "above_max"
	FlagDeadband  = "deadband"
	FlagCritHi    = "crit_hi"
	FlagCritLo    = "crit_lo"
	FlagWarnHi    = "warn_hi"
	FlagWarnLo    = "warn_lo"
)

type Device struct {
	ID      string  `json:"id"`
	OrgID   string  `json:"org_id,omitempty"`
	HMACKey *string `json:"-"`
}

type Settings struct {
	SignatureRequired         bool `json:"signature_required" yaml:"signature_required"`
	AdvisoryEnabled           bool `json:"advisory_enabled" yaml:"advisory_enabled"`
	AdvisoryThrottleMinutes   int  `json:"advisory_throttle_minutes" yaml:"advisory_throttle_minutes"`
	TimestampToleranceMinutes int  `json:"timestamp_tolerance_minutes" yaml:"timestamp_tolerance_minutes"`
}

type SensorConfiguration struct {
	EquipmentID string   `json:"equipment_id"`
	SensorType  string   `json:"sensor_type"`
	OrgID       string   `json:"org_id"`
	Enabled     bool     `json:"enabled"`
	Gain        float64  `json:"gain"`
	Offset      float64  `json:"offset"`
	MinValid    *float64 `json:"min_valid,omitempty"`
	MaxValid    *float64 `json:"max_valid,omitempty"`
	Deadband    *float64 `json:"deadband,omitempty"`
	WarnHi      *float64 `json:"warn_hi,omitempty"`
	WarnLo      *float64 `json:"warn_lo,omitempty"`
	CritHi      *float64 `json:"crit_hi,omitempty"`
	CritLo      *float64 `json:"crit_lo,omitempty"`
	Hysteresis  *float64 `json:"hysteresis,omitempty"`
	EMAAlpha    *float64 `json:"ema_alpha,omitempty"`
}

type SensorState struct {
	EquipmentID   string    `json:"equipment_id"`
	SensorType    string    `json:"sensor_type"`
	OrgID         string    `json:"org_id"`
	LastValue     *float64  `json:"last_value,omitempty"`
	EMA           *float64  `json:"ema,omitempty"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

type TelemetryReading struct {
	ID          string    `json:"id"`
	EquipmentID string    `json:"equipmentId"`
	SensorType  string    `json:"sensorType"`
	Value       *float64  `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	OrgID       string    `json:"orgId,omitempty"`
	Status      Status    `json:"status"`
	Flags       []string  `json:"flags,omitempty"`
	EMA         *float64  `json:"ema,omitempty"`
}

type AlertConfiguration struct {
	ID                int64    `json:"id"`
	EquipmentID       string   `json:"equipment_id"`
	SensorType        string   `json:"sensor_type"`
	Enabled           bool     `json:"enabled"`
	WarningThreshold  *float64 `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64 `json:"critical_threshold,omitempty"`
}

type AlertNotification struct {
	ID           string    `json:"id"`
	EquipmentID  string    `json:"equipmentId"`
	SensorType   string    `json:"sensorType"`
	AlertType    AlertType `json:"alertType"`
	Message      string    `json:"message"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	Acknowledged bool      `json:"acknowledged"`
	CreatedAt    time.Time `json:"createdAt"`
}

type AlertSuppression struct {
	EquipmentID string     `json:"equipment_id"`
	SensorType  string     `json:"sensor_type"`
	AlertType   *AlertType `json:"alert_type,omitempty"`
	Until       time.Time  `json:"until"`
}

type MaintenanceSchedule struct {
	ID            string    `json:"id"`
	EquipmentID   string    `json:"equipmentId"`
	AutoGenerated bool      `json:"autoGenerated"`
	Status        string    `json:"status"`
	Priority      int       `json:"priority"`
	HealthScore   float64   `json:"healthScore"`
	CreatedAt     time.Time `json:"createdAt"`
	ScheduledFor  time.Time `json:"scheduledFor"`
}

type Advisory struct {
	Severity        string   `json:"severity"`
	Urgency         string   `json:"urgency"`
	Title           string   `json:"title"`
	Recommendations []string `json:"recommendations"`
}
