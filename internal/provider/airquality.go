package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// airKoreaResponse is the envelope of the AirKorea real-time measurement API
type airKoreaResponse struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			TotalCount int            `json:"totalCount"`
			Items      []airKoreaItem `json:"items"`
		} `json:"body"`
	} `json:"response"`
}

type airKoreaItem struct {
	DataTime  string `json:"dataTime"`
	PM10Value string `json:"pm10Value"`
	PM25Value string `json:"pm25Value"`
	O3Value   string `json:"o3Value"`
	KhaiGrade string `json:"khaiGrade"`
}

var airGrades = map[string]string{
	"1": "좋음",
	"2": "보통",
	"3": "나쁨",
	"4": "매우나쁨",
}

// FetchAirQuality fetches the latest reading for the configured station
func (c *Client) FetchAirQuality(ctx context.Context) (*models.AirQualityRecord, error) {
	params := map[string]string{
		"serviceKey":  c.cfg.ServiceKey,
		"returnType":  "json",
		"numOfRows":   "1",
		"pageNo":      "1",
		"stationName": c.cfg.Station,
		"dataTerm":    "DAILY",
		"ver":         "1.0",
	}

	var resp airKoreaResponse
	if err := c.get(ctx, c.cfg.AirQualityURL, params, &resp); err != nil {
		return nil, err
	}

	record, err := normalizeAirQuality(&resp, c.cfg.Region, c.cfg.Station, c.loc, c.logger)
	if err != nil {
		return nil, err
	}
	record.FetchedAt = c.now()
	return record, nil
}

func normalizeAirQuality(resp *airKoreaResponse, region, station string, loc *time.Location, logger *zap.Logger) (*models.AirQualityRecord, error) {
	header := resp.Response.Header
	if header.ResultCode != "00" {
		return nil, fmt.Errorf("air quality API error: %s (code %s)", header.ResultMsg, header.ResultCode)
	}
	if len(resp.Response.Body.Items) == 0 {
		return nil, fmt.Errorf("air quality API returned no items for station %s", station)
	}

	// Items are newest first.
	item := resp.Response.Body.Items[0]
	record := &models.AirQualityRecord{
		Region:  region,
		Station: station,
		Grade:   airGrades[item.KhaiGrade],
	}

	// AirKorea reports midnight as "24:00" of the previous day.
	dataTime := item.DataTime
	if t, err := time.ParseInLocation("2006-01-02 15:04", dataTime, loc); err == nil {
		record.ObservedAt = t
	} else if len(dataTime) == len("2006-01-02 24:00") && dataTime[11:] == "24:00" {
		if day, err := time.ParseInLocation("2006-01-02", dataTime[:10], loc); err == nil {
			record.ObservedAt = day.Add(24 * time.Hour)
		}
	} else {
		logger.Warn("Unreadable air quality timestamp", zap.String("data_time", dataTime))
	}

	fields := []struct {
		name string
		raw  string
		dst  **float64
	}{
		{"pm10", item.PM10Value, &record.PM10},
		{"pm25", item.PM25Value, &record.PM25},
		{"o3", item.O3Value, &record.O3},
	}
	for _, f := range fields {
		value, ok := parseReading(f.raw)
		if !ok {
			logger.Warn("Skipping unreadable air quality value",
				zap.String("field", f.name),
				zap.String("value", f.raw),
			)
			continue
		}
		*f.dst = value
	}

	return record, nil
}
