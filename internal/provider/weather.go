package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// kmaResponse is the envelope of the KMA ultra short-term nowcast API
type kmaResponse struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items struct {
				Item []kmaItem `json:"item"`
			} `json:"items"`
		} `json:"body"`
	} `json:"response"`
}

type kmaItem struct {
	BaseDate  string `json:"baseDate"`
	BaseTime  string `json:"baseTime"`
	Category  string `json:"category"`
	ObsrValue string `json:"obsrValue"`
}

// KMA nowcast categories
const (
	kmaTemperature   = "T1H"
	kmaPrecipitation = "RN1"
	kmaHumidity      = "REH"
	kmaWindSpeed     = "WSD"
	kmaPrecipType    = "PTY"
)

var precipitationTypes = map[string]string{
	"0": "",
	"1": "비",
	"2": "비/눈",
	"3": "눈",
	"5": "빗방울",
	"6": "빗방울눈날림",
	"7": "눈날림",
}

// FetchWeather fetches current conditions for the configured grid cell
func (c *Client) FetchWeather(ctx context.Context) (*models.WeatherRecord, error) {
	baseDate, baseTime := nowcastBaseTime(c.now().In(c.loc))

	params := map[string]string{
		"serviceKey": c.cfg.ServiceKey,
		"pageNo":     "1",
		"numOfRows":  "100",
		"dataType":   "JSON",
		"base_date":  baseDate,
		"base_time":  baseTime,
		"nx":         strconv.Itoa(c.cfg.GridX),
		"ny":         strconv.Itoa(c.cfg.GridY),
	}

	var resp kmaResponse
	if err := c.get(ctx, c.cfg.WeatherURL, params, &resp); err != nil {
		return nil, err
	}

	record, err := normalizeWeather(&resp, c.cfg.Region, c.loc, c.logger)
	if err != nil {
		return nil, err
	}
	record.FetchedAt = c.now()
	return record, nil
}

// nowcastBaseTime picks the latest published observation hour. Nowcasts are
// published around 40 minutes past the hour.
func nowcastBaseTime(now time.Time) (string, string) {
	base := now
	if now.Minute() < 40 {
		base = now.Add(-time.Hour)
	}
	return base.Format("20060102"), base.Format("1504")[:2] + "00"
}

func normalizeWeather(resp *kmaResponse, region string, loc *time.Location, logger *zap.Logger) (*models.WeatherRecord, error) {
	header := resp.Response.Header
	if header.ResultCode != "00" {
		return nil, fmt.Errorf("weather API error: %s (code %s)", header.ResultMsg, header.ResultCode)
	}

	items := resp.Response.Body.Items.Item
	if len(items) == 0 {
		return nil, fmt.Errorf("weather API returned no items")
	}

	record := &models.WeatherRecord{Region: region}
	for _, item := range items {
		if record.ObservedAt.IsZero() {
			if t, err := time.ParseInLocation("200601021504", item.BaseDate+item.BaseTime, loc); err == nil {
				record.ObservedAt = t
			}
		}

		if item.Category == kmaPrecipType {
			label, ok := precipitationTypes[item.ObsrValue]
			if !ok {
				logger.Warn("Unknown precipitation type", zap.String("value", item.ObsrValue))
			}
			record.PrecipitationType = label
			continue
		}

		value, ok := parseReading(item.ObsrValue)
		if !ok {
			logger.Warn("Skipping unreadable weather value",
				zap.String("category", item.Category),
				zap.String("value", item.ObsrValue),
			)
			continue
		}

		switch item.Category {
		case kmaTemperature:
			record.Temperature = value
		case kmaHumidity:
			record.Humidity = value
		case kmaPrecipitation:
			record.Precipitation = value
		case kmaWindSpeed:
			record.WindSpeed = value
		}
	}

	return record, nil
}
