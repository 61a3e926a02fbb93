// Package uplink serializes the sensor snapshot to the ingestion service's
// wire format and transmits it. Transmission is best-effort and
// most-recent-wins; retries are cadence-driven by the supervisor, never
// synchronous.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agrinet/field-controller/internal/sensors"
)

// Payload is the ingestion service's insert schema.
type Payload struct {
	Timestamp     string  `json:"timestamp"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	LightLevel    int     `json:"lightLevel"`
	RainLevel     int     `json:"rainLevel"`
	AirQualityPPM float64 `json:"airQualityPPM"`
	SoilMoisture  int     `json:"soilMoisture"`
}

// timestampLayout is the collaborator's expected format.
const timestampLayout = "2006-01-02 15:04:05"

// PayloadFrom builds the wire payload for a reading.
func PayloadFrom(r sensors.Reading) Payload {
	return Payload{
		Timestamp:     time.Unix(r.Timestamp, 0).UTC().Format(timestampLayout),
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		LightLevel:    r.LightLevel,
		RainLevel:     r.RainLevel,
		AirQualityPPM: r.AirQualityPPM,
		SoilMoisture:  r.SoilMoisture,
	}
}

// StatusError reports a non-2xx response from the ingestion service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingestion service returned status %d", e.Code)
}

// ClientConfig holds ingestion client configuration.
type ClientConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client posts readings to the ingestion service.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates an ingestion client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send posts one payload. Any 2xx status is success.
func (c *Client) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post reading: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
