package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fleetpulse/internal/model"
)

type SensorContext struct {
	SensorType string       `json:"sensorType"`
	Value      *float64     `json:"value"`
	Unit       string       `json:"unit,omitempty"`
	Status     model.Status `json:"status"`
	Flags      []string     `json:"flags,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

type VesselContext struct {
	OrgID string `json:"orgId,omitempty"`
}

type Request struct {
	AlertKind     string        `json:"alertKind"`
	EquipmentID   string        `json:"equipmentId"`
	SensorContext SensorContext `json:"sensorContext"`
	VesselContext VesselContext `json:"vesselContext"`
}

type Generator interface {
	GenerateAdvisory(ctx context.Context, req Request) (*model.Advisory, error)
}

// HTTPGenerator posts the request as JSON and decodes the advisory reply.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGenerator) GenerateAdvisory(ctx context.Context, req Request) (*model.Advisory, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("advisory request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advisory service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var adv model.Advisory
	if err := json.NewDecoder(resp.Body).Decode(&adv); err != nil {
		return nil, fmt.Errorf("decode advisory: %w", err)
	}
	return &adv, nil
}
