package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/pkg/config"
)

// Provider is the set of public data fetches the pipeline depends on
type Provider interface {
	FetchWeather(ctx context.Context) (*models.WeatherRecord, error)
	FetchAirQuality(ctx context.Context) (*models.AirQualityRecord, error)
	FetchDisasters(ctx context.Context, lookbackHours int) ([]models.DisasterMessage, error)
}

// Client talks to the public data portal APIs. Retries are left to the
// caller, so the underlying HTTP client never retries on its own.
type Client struct {
	http   *resty.Client
	cfg    config.ProvidersConfig
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewClient creates a provider client
func NewClient(cfg config.ProvidersConfig, loc *time.Location, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

func (c *Client) get(ctx context.Context, url string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("request to %s returned status %d", url, resp.StatusCode())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// parseReading turns a provider string value into a float. Providers report
// missing readings as "-", "" or a sentinel such as "통신장애".
func parseReading(raw string) (*float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
