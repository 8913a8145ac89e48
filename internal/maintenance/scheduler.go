package maintenance

import (
	"context"
	"fmt"
	"time"

	"fleetpulse/internal/model"
)

type ScheduleWriter interface {
	GetMaintenanceSchedules(ctx context.Context, equipmentID string) ([]model.MaintenanceSchedule, error)
	CreateMaintenanceSchedule(ctx context.Context, s *model.MaintenanceSchedule) error
}

// StoreScheduler implements Store on top of plain schedule persistence.
type StoreScheduler struct {
	ScheduleWriter
	now func() time.Time
}

func NewStoreScheduler(w ScheduleWriter) *StoreScheduler {
	return &StoreScheduler{ScheduleWriter: w, now: func() time.Time { return time.Now().UTC() }}
}

// Priority returns the priority (1 most urgent) and lead time for a score.
func Priority(healthScore float64) (int, time.Duration) {
	switch {
	case healthScore < 30:
		return 1, 24 * time.Hour
	case healthScore < 50:
		return 2, 3 * 24 * time.Hour
	case healthScore < 70:
		return 3, 7 * 24 * time.Hour
	default:
		return 4, 14 * 24 * time.Hour
	}
}

func (s *StoreScheduler) AutoScheduleMaintenance(ctx context.Context, equipmentID string, healthScore float64) (*model.MaintenanceSchedule, error) {
	priority, lead := Priority(healthScore)
	now := s.now()
	sched := &model.MaintenanceSchedule{
		EquipmentID:   equipmentID,
		AutoGenerated: true,
		Status:        model.ScheduleStatusScheduled,
		Priority:      priority,
		HealthScore:   healthScore,
		CreatedAt:     now,
		ScheduledFor:  now.Add(lead),
	}
	if err := s.CreateMaintenanceSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("create maintenance schedule: %w", err)
	}
	return sched, nil
}
