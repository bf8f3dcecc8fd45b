package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// safetyDataResponse is the envelope of the disaster text message API
type safetyDataResponse struct {
	Header struct {
		ResultCode string `json:"resultCode"`
		ResultMsg  string `json:"resultMsg"`
	} `json:"header"`
	TotalCount int              `json:"totalCount"`
	Body       []safetyDataItem `json:"body"`
}

type safetyDataItem struct {
	SN           flexString `json:"SN"`
	MessageText  string     `json:"MSG_CN"`
	ReceiveArea  string     `json:"RCPTN_RGN_NM"`
	CreatedAt    string     `json:"CRT_DT"`
	EmergencyStp string     `json:"EMRG_STEP_NM"`
	DisasterKind string     `json:"DST_SE_NM"`
}

const disasterTimeLayout = "2006/01/02 15:04:05"

// FetchDisasters fetches disaster messages created within the last
// lookbackHours, oldest first.
func (c *Client) FetchDisasters(ctx context.Context, lookbackHours int) ([]models.DisasterMessage, error) {
	now := c.now().In(c.loc)
	since := now.Add(-time.Duration(lookbackHours) * time.Hour)

	params := map[string]string{
		"serviceKey": c.cfg.ServiceKey,
		"returnType": "json",
		"pageNo":     "1",
		"numOfRows":  "100",
		"crtDt":      since.Format("20060102"),
	}

	var resp safetyDataResponse
	if err := c.get(ctx, c.cfg.DisasterURL, params, &resp); err != nil {
		return nil, err
	}

	messages, err := normalizeDisasters(&resp, since, c.loc, c.logger)
	if err != nil {
		return nil, err
	}
	fetchedAt := c.now()
	for i := range messages {
		messages[i].FetchedAt = fetchedAt
	}
	return messages, nil
}

func normalizeDisasters(resp *safetyDataResponse, since time.Time, loc *time.Location, logger *zap.Logger) ([]models.DisasterMessage, error) {
	// The API reports an empty result with a non-"00" code on some days.
	switch resp.Header.ResultCode {
	case "00", "":
	case "03":
		return []models.DisasterMessage{}, nil
	default:
		return nil, fmt.Errorf("disaster API error: %s (code %s)", resp.Header.ResultMsg, resp.Header.ResultCode)
	}

	messages := make([]models.DisasterMessage, 0, len(resp.Body))
	for _, item := range resp.Body {
		sn := strings.TrimSpace(string(item.SN))
		if sn == "" {
			logger.Warn("Skipping disaster message without serial number", zap.String("message", item.MessageText))
			continue
		}

		createdAt, err := time.ParseInLocation(disasterTimeLayout, item.CreatedAt, loc)
		if err != nil {
			logger.Warn("Skipping disaster message with unreadable timestamp",
				zap.String("serial_number", sn),
				zap.String("created_at", item.CreatedAt),
			)
			continue
		}
		if createdAt.Before(since) {
			continue
		}

		messages = append(messages, models.DisasterMessage{
			SerialNumber: sn,
			Location:     item.ReceiveArea,
			Message:      item.MessageText,
			Step:         item.EmergencyStp,
			Kind:         item.DisasterKind,
			CreatedAt:    createdAt,
		})
	}

	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return serialLess(messages[i].SerialNumber, messages[j].SerialNumber)
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}

func serialLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
