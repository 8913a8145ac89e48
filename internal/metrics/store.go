package metrics

import (
	"sync"
	"time"

	"fleetpulse/internal/model"
)

// Store keeps the latest stored reading per equipment and sensor for the status API.
type Store struct {
	mu          sync.RWMutex
	byEquipment map[string]map[string]model.TelemetryReading
	updatedAt   map[string]time.Time
	limit       int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byEquipment: make(map[string]map[string]model.TelemetryReading),
		updatedAt:   make(map[string]time.Time),
		limit:       limit,
	}
}

func (s *Store) Update(reading model.TelemetryReading) {
	if reading.EquipmentID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byEquipment[reading.EquipmentID]
	if !ok {
		m = make(map[string]model.TelemetryReading)
		s.byEquipment[reading.EquipmentID] = m
	}
	m[reading.SensorType] = reading
	s.updatedAt[reading.EquipmentID] = time.Now().UTC()
	if len(s.byEquipment) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(equipmentID string) ([]model.TelemetryReading, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byEquipment[equipmentID]
	if !ok {
		return nil, time.Time{}, false
	}
	out := make([]model.TelemetryReading, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out, s.updatedAt[equipmentID], true
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEquipment)
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byEquipment, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEquipment = make(map[string]map[string]model.TelemetryReading)
	s.updatedAt = make(map[string]time.Time)
}
