package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"fleetpulse/internal/model"
)

type staticSettings model.Settings

func (s staticSettings) Settings() model.Settings { return model.Settings(s) }

type countingGenerator struct {
	calls    atomic.Int32
	severity string
	err      error
}

func (g *countingGenerator) GenerateAdvisory(ctx context.Context, req Request) (*model.Advisory, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return &model.Advisory{Severity: g.severity, Title: "check " + req.SensorContext.SensorType}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(channel string, eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, channel+"/"+eventType)
}

type thresholds []model.AlertConfiguration

func (t thresholds) GetAlertConfigurations(ctx context.Context, equipmentID string) ([]model.AlertConfiguration, error) {
	return t, nil
}

func num(v float64) *float64 { return &v }

func enabled() staticSettings {
	return staticSettings{AdvisoryEnabled: true}
}

func TestShouldTrigger(t *testing.T) {
	is := is.New(t)
	is.True(ShouldTrigger(model.TelemetryReading{SensorType: "rpm", Status: model.StatusCritical}, nil))
	is.True(ShouldTrigger(model.TelemetryReading{SensorType: "engine_temperature", Status: model.StatusWarning}, nil))
	is.True(!ShouldTrigger(model.TelemetryReading{SensorType: "rpm", Status: model.StatusWarning}, nil))
	is.True(ShouldTrigger(model.TelemetryReading{SensorType: "oil_pressure", Status: model.StatusWarning}, nil))
	is.True(!ShouldTrigger(model.TelemetryReading{SensorType: "oil_pressure", Status: model.StatusNormal}, nil))
	is.True(ShouldTrigger(model.TelemetryReading{SensorType: "vibration", Value: num(8.5), Status: model.StatusNormal}, num(10)))
	is.True(!ShouldTrigger(model.TelemetryReading{SensorType: "vibration", Value: num(8), Status: model.StatusNormal}, num(10)))
	is.True(!ShouldTrigger(model.TelemetryReading{SensorType: "vibration", Value: num(50), Status: model.StatusNormal}, nil))
}

func TestThrottleOneCallPerWindow(t *testing.T) {
	is := is.New(t)
	gen := &countingGenerator{severity: "high"}
	rec := &recorder{}
	th := NewThrottle(NewMemoryKV(), gen, enabled(), nil, rec, 0, nil)
	r := model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Status: model.StatusCritical, Value: num(99)}
	th.Process(context.Background(), r)
	th.Process(context.Background(), r)
	is.Equal(gen.calls.Load(), int32(1))
	is.Equal(rec.events, []string{"advisories/advisory"})

	other := r
	other.SensorType = "rpm"
	th.Process(context.Background(), other)
	is.Equal(gen.calls.Load(), int32(2)) // different key is not throttled
}

func TestThrottleConcurrentSameKey(t *testing.T) {
	gen := &countingGenerator{severity: "low"}
	th := NewThrottle(NewMemoryKV(), gen, enabled(), nil, nil, time.Minute, nil)
	r := model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Status: model.StatusCritical}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.Process(context.Background(), r)
		}()
	}
	wg.Wait()
	if gen.calls.Load() != 1 {
		t.Fatalf("expected exactly one advisory call, got %d", gen.calls.Load())
	}
}

func TestThrottleDisabledAndLowSeverity(t *testing.T) {
	is := is.New(t)
	gen := &countingGenerator{severity: "medium"}
	rec := &recorder{}
	r := model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Status: model.StatusCritical}

	NewThrottle(NewMemoryKV(), gen, staticSettings{}, nil, rec, 0, nil).Process(context.Background(), r)
	is.Equal(gen.calls.Load(), int32(0))

	NewThrottle(NewMemoryKV(), gen, enabled(), nil, rec, 0, nil).Process(context.Background(), r)
	is.Equal(gen.calls.Load(), int32(1))
	is.Equal(len(rec.events), 0) // medium severity is not broadcast
}

func TestThrottleFailureNotRetried(t *testing.T) {
	is := is.New(t)
	gen := &countingGenerator{err: errors.New("model overloaded")}
	th := NewThrottle(NewMemoryKV(), gen, enabled(), nil, nil, 0, nil)
	r := model.TelemetryReading{EquipmentID: "e1", SensorType: "temp", Status: model.StatusCritical}
	th.Process(context.Background(), r)
	th.Process(context.Background(), r)
	is.Equal(gen.calls.Load(), int32(1))
}

func TestThrottleUsesVibrationThreshold(t *testing.T) {
	is := is.New(t)
	gen := &countingGenerator{severity: "low"}
	cfgs := thresholds{{EquipmentID: "e1", SensorType: "Vibration", Enabled: true, WarningThreshold: num(5), CriticalThreshold: num(9)}}
	th := NewThrottle(NewMemoryKV(), gen, enabled(), cfgs, nil, 0, nil)
	th.Process(context.Background(), model.TelemetryReading{EquipmentID: "e1", SensorType: "vibration", Status: model.StatusNormal, Value: num(4.5)})
	is.Equal(gen.calls.Load(), int32(1))
}

func TestMemoryKVExpiry(t *testing.T) {
	is := is.New(t)
	kv := NewMemoryKV()
	now := time.Now()
	kv.now = func() time.Time { return now }
	ok, _ := kv.SetNX(context.Background(), "k", time.Minute)
	is.True(ok)
	ok, _ = kv.SetNX(context.Background(), "k", time.Minute)
	is.True(!ok)
	now = now.Add(2 * time.Minute)
	ok, _ = kv.SetNX(context.Background(), "k", time.Minute)
	is.True(ok)
}

func TestThrottleWindowFromSettings(t *testing.T) {
	is := is.New(t)
	th := NewThrottle(nil, nil, enabled(), nil, nil, 0, nil)
	is.Equal(th.window(model.Settings{}), 2*time.Minute)
	is.Equal(th.window(model.Settings{AdvisoryThrottleMinutes: 15}), 15*time.Minute)
}

func TestHTTPGenerator(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EquipmentID != "e1" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(model.Advisory{Severity: "critical", Title: "inspect bearings", Recommendations: []string{"stop pump"}})
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, time.Second)
	adv, err := gen.GenerateAdvisory(context.Background(), Request{EquipmentID: "e1"})
	is.NoErr(err)
	is.Equal(adv.Severity, "critical")
	is.Equal(len(adv.Recommendations), 1)

	_, err = gen.GenerateAdvisory(context.Background(), Request{EquipmentID: "other"})
	is.True(err != nil)
}
