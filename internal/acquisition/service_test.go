package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/cache"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/retry"
)

type fakeProvider struct {
	weatherCalls  int
	airCalls      int
	disasterCalls int
	fail          bool
	temperature   float64
	disasters     []models.DisasterMessage
}

func (f *fakeProvider) FetchWeather(context.Context) (*models.WeatherRecord, error) {
	f.weatherCalls++
	if f.fail {
		return nil, errors.New("weather API down")
	}
	t := f.temperature
	return &models.WeatherRecord{Region: "seoul", Temperature: &t}, nil
}

func (f *fakeProvider) FetchAirQuality(context.Context) (*models.AirQualityRecord, error) {
	f.airCalls++
	if f.fail {
		return nil, errors.New("air API down")
	}
	pm := 2000.0
	return &models.AirQualityRecord{Region: "seoul", PM10: &pm}, nil
}

func (f *fakeProvider) FetchDisasters(_ context.Context, _ int) ([]models.DisasterMessage, error) {
	f.disasterCalls++
	if f.fail {
		return nil, errors.New("disaster API down")
	}
	return f.disasters, nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setup(t *testing.T) (*Service, *fakeProvider, *clock) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := &clock{t: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
	store := cache.NewStore(client, "test", zap.NewNop(), cache.WithClock(clk.Now))

	p := &fakeProvider{temperature: 30}
	r := retry.New(3, 0, 1.5)
	return NewService(store, p, r, "seoul", 1, zap.NewNop()), p, clk
}

func TestWeather_CachedWithinTTL(t *testing.T) {
	svc, p, clk := setup(t)
	ctx := context.Background()

	_, err := svc.WeatherData(ctx, false)
	require.NoError(t, err)
	clk.t = clk.t.Add(30 * time.Minute)
	_, err = svc.WeatherData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, p.weatherCalls)

	clk.t = clk.t.Add(31 * time.Minute)
	_, err = svc.WeatherData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, p.weatherCalls)
}

func TestWeather_ForceRefreshBypassesCache(t *testing.T) {
	svc, p, _ := setup(t)
	ctx := context.Background()

	_, err := svc.WeatherData(ctx, false)
	require.NoError(t, err)
	p.temperature = 35

	w, err := svc.WeatherData(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 35.0, *w.Temperature)
	assert.Equal(t, 2, p.weatherCalls)
}

func TestWeather_StaleFallbackOnTotalFailure(t *testing.T) {
	svc, p, clk := setup(t)
	ctx := context.Background()

	_, err := svc.WeatherData(ctx, false)
	require.NoError(t, err)

	clk.t = clk.t.Add(2 * time.Hour)
	p.fail = true

	w, err := svc.WeatherData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 30.0, *w.Temperature)
	assert.Equal(t, 1+3, p.weatherCalls)
}

func TestWeather_UnavailableWithoutStale(t *testing.T) {
	svc, p, _ := setup(t)
	p.fail = true

	_, err := svc.WeatherData(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, 3, p.weatherCalls)
}

func TestAirQuality_OutOfRangeIsPassedThrough(t *testing.T) {
	svc, _, _ := setup(t)

	a, err := svc.AirQualityData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, *a.PM10)
}

func TestDisasters_TTLIsTenMinutes(t *testing.T) {
	svc, p, clk := setup(t)
	p.disasters = []models.DisasterMessage{{SerialNumber: "1", Message: "폭염경보"}}
	ctx := context.Background()

	msgs, err := svc.DisasterData(ctx, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	clk.t = clk.t.Add(9 * time.Minute)
	_, err = svc.DisasterData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, p.disasterCalls)

	clk.t = clk.t.Add(2 * time.Minute)
	_, err = svc.DisasterData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, p.disasterCalls)
}

func TestDisasters_StaleServedAfterCallerDeadline(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := cache.NewStore(client, "test", zap.NewNop())

	p := &fakeProvider{disasters: []models.DisasterMessage{{SerialNumber: "1", Message: "폭염경보"}}}
	svc := NewService(store, p, retry.New(3, time.Second, 1), "seoul", 1, zap.NewNop())

	_, err := svc.DisasterData(context.Background(), true)
	require.NoError(t, err)

	// the deadline expires during the first back-off
	p.fail = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	msgs, err := svc.DisasterData(ctx, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].SerialNumber)
	assert.Equal(t, 2, p.disasterCalls)
}

func TestDisasters_OwnRetrier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := cache.NewStore(client, "test", zap.NewNop())

	var weatherSleeps, disasterSleeps []time.Duration
	slow := retry.New(3, time.Minute, 1.5).WithSleeper(func(_ context.Context, d time.Duration) error {
		weatherSleeps = append(weatherSleeps, d)
		return nil
	})
	fast := retry.New(2, 5*time.Second, 1).WithSleeper(func(_ context.Context, d time.Duration) error {
		disasterSleeps = append(disasterSleeps, d)
		return nil
	})

	p := &fakeProvider{fail: true}
	svc := NewService(store, p, slow, "seoul", 1, zap.NewNop(), WithDisasterRetrier(fast))

	_, err := svc.DisasterData(context.Background(), true)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, 2, p.disasterCalls)
	assert.Equal(t, []time.Duration{5 * time.Second}, disasterSleeps)

	_, err = svc.WeatherData(context.Background(), true)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, []time.Duration{time.Minute, 90 * time.Second}, weatherSleeps)
}

func TestValidateWeather(t *testing.T) {
	hot, wet := 75.0, 120.0
	anomalies := ValidateWeather(&models.WeatherRecord{Temperature: &hot, Humidity: &wet})
	assert.Len(t, anomalies, 2)

	ok := 20.0
	assert.Empty(t, ValidateWeather(&models.WeatherRecord{Temperature: &ok}))
	assert.NotEmpty(t, ValidateWeather(&models.WeatherRecord{}))
}

func TestValidateDisasters(t *testing.T) {
	now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	anomalies := ValidateDisasters(&models.DisasterBatch{Messages: []models.DisasterMessage{
		{SerialNumber: "1", Message: "", CreatedAt: now},
		{SerialNumber: "2", Message: "x", CreatedAt: now.Add(time.Hour)},
	}}, now)
	assert.Len(t, anomalies, 2)
}
