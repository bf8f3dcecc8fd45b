package acquisition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/provider"
	"github.com/smukkama/welfare-notifier/internal/retry"
)

// Freshness per data type
const (
	WeatherTTL    = 60 * time.Minute
	AirQualityTTL = 120 * time.Minute
	DisasterTTL   = 10 * time.Minute
)

// Service groups the three data sources behind one cache and retry policy
type Service struct {
	Weather    *Source[*models.WeatherRecord]
	AirQuality *Source[*models.AirQualityRecord]
	Disasters  *Source[*models.DisasterBatch]
}

// Option configures a Service
type Option func(*serviceOptions)

type serviceOptions struct {
	disasterRetrier *retry.Retrier
}

// WithDisasterRetrier gives disaster fetches their own retry policy. The
// emergency poll bounds each fetch with a timeout, so its back-off has to be
// far shorter than the one used for weather and air quality.
func WithDisasterRetrier(r *retry.Retrier) Option {
	return func(o *serviceOptions) { o.disasterRetrier = r }
}

// NewService wires the provider fetches to the cache. lookbackHours bounds
// how far back disaster messages are requested.
func NewService(cache Cache, p provider.Provider, retrier *retry.Retrier, region string, lookbackHours int, logger *zap.Logger, opts ...Option) *Service {
	now := time.Now

	o := serviceOptions{disasterRetrier: retrier}
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		Weather: NewSource(models.DataTypeWeather, region, WeatherTTL, cache, retrier,
			p.FetchWeather, ValidateWeather, logger),

		AirQuality: NewSource(models.DataTypeAirQuality, region, AirQualityTTL, cache, retrier,
			p.FetchAirQuality, ValidateAirQuality, logger),

		Disasters: NewSource(models.DataTypeDisaster, region, DisasterTTL, cache, o.disasterRetrier,
			func(ctx context.Context) (*models.DisasterBatch, error) {
				msgs, err := p.FetchDisasters(ctx, lookbackHours)
				if err != nil {
					return nil, err
				}
				return &models.DisasterBatch{Messages: msgs, FetchedAt: now()}, nil
			},
			func(b *models.DisasterBatch) []string { return ValidateDisasters(b, now()) },
			logger),
	}
}

// WeatherData returns current weather, from cache when fresh
func (s *Service) WeatherData(ctx context.Context, forceRefresh bool) (*models.WeatherRecord, error) {
	return s.Weather.GetData(ctx, forceRefresh)
}

// AirQualityData returns the current air quality, from cache when fresh
func (s *Service) AirQualityData(ctx context.Context, forceRefresh bool) (*models.AirQualityRecord, error) {
	return s.AirQuality.GetData(ctx, forceRefresh)
}

// DisasterData returns recent disaster messages, from cache when fresh
func (s *Service) DisasterData(ctx context.Context, forceRefresh bool) ([]models.DisasterMessage, error) {
	batch, err := s.Disasters.GetData(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	return batch.Messages, nil
}

func outOfRange(name string, v *float64, min, max float64) (string, bool) {
	if v == nil || (*v >= min && *v <= max) {
		return "", false
	}
	return fmt.Sprintf("%s %.2f outside [%.0f, %.0f]", name, *v, min, max), true
}

// ValidateWeather reports readings outside plausible ranges
func ValidateWeather(w *models.WeatherRecord) []string {
	if w == nil {
		return []string{"empty weather record"}
	}
	var anomalies []string
	checks := []struct {
		name     string
		v        *float64
		min, max float64
	}{
		{"temperature", w.Temperature, -50, 60},
		{"humidity", w.Humidity, 0, 100},
		{"precipitation", w.Precipitation, 0, 500},
		{"wind_speed", w.WindSpeed, 0, 80},
	}
	for _, c := range checks {
		if msg, bad := outOfRange(c.name, c.v, c.min, c.max); bad {
			anomalies = append(anomalies, msg)
		}
	}
	if w.Temperature == nil && w.Humidity == nil {
		anomalies = append(anomalies, "no temperature or humidity reading")
	}
	return anomalies
}

// ValidateAirQuality reports readings outside plausible ranges
func ValidateAirQuality(a *models.AirQualityRecord) []string {
	if a == nil {
		return []string{"empty air quality record"}
	}
	var anomalies []string
	checks := []struct {
		name     string
		v        *float64
		min, max float64
	}{
		{"pm10", a.PM10, 0, 1000},
		{"pm25", a.PM25, 0, 500},
		{"o3", a.O3, 0, 1},
	}
	for _, c := range checks {
		if msg, bad := outOfRange(c.name, c.v, c.min, c.max); bad {
			anomalies = append(anomalies, msg)
		}
	}
	return anomalies
}

// ValidateDisasters reports empty texts and timestamps from the future
func ValidateDisasters(b *models.DisasterBatch, now time.Time) []string {
	if b == nil {
		return []string{"empty disaster batch"}
	}
	var anomalies []string
	for _, m := range b.Messages {
		if m.Message == "" {
			anomalies = append(anomalies, fmt.Sprintf("disaster %s has no message text", m.SerialNumber))
		}
		if m.CreatedAt.After(now.Add(5 * time.Minute)) {
			anomalies = append(anomalies, fmt.Sprintf("disaster %s created in the future (%s)", m.SerialNumber, m.CreatedAt))
		}
	}
	return anomalies
}
