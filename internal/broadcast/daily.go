package broadcast

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/dispatch"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/notification"
)

// DataSource is the part of the acquisition service the daily broadcast reads
type DataSource interface {
	WeatherData(ctx context.Context, forceRefresh bool) (*models.WeatherRecord, error)
	AirQualityData(ctx context.Context, forceRefresh bool) (*models.AirQualityRecord, error)
}

// RecipientSource lists broadcast recipients
type RecipientSource interface {
	ActiveRecipients(ctx context.Context) ([]models.Recipient, error)
}

// Sender is the part of the dispatcher used for broadcasts
type Sender interface {
	NewJob(kind, content string, recipients []models.Recipient) *models.DispatchJob
	Send(ctx context.Context, job *models.DispatchJob) dispatch.Result
}

// ErrNoData means neither weather nor air quality could be obtained
var ErrNoData = errors.New("no weather or air quality data for broadcast")

// Daily sends the morning weather and air quality message to every active
// recipient.
type Daily struct {
	data       DataSource
	recipients RecipientSource
	sender     Sender
	region     string
	logger     *zap.Logger
}

// NewDaily creates the daily broadcast
func NewDaily(data DataSource, recipients RecipientSource, sender Sender, region string, logger *zap.Logger) *Daily {
	return &Daily{
		data:       data,
		recipients: recipients,
		sender:     sender,
		region:     region,
		logger:     logger,
	}
}

// Send builds and dispatches today's message. A missing source is left out of
// the message; if both are missing nothing is sent.
func (d *Daily) Send(ctx context.Context) error {
	weather, err := d.data.WeatherData(ctx, false)
	if err != nil {
		d.logger.Warn("Daily broadcast without weather", zap.Error(err))
		weather = nil
	}
	air, err := d.data.AirQualityData(ctx, false)
	if err != nil {
		d.logger.Warn("Daily broadcast without air quality", zap.Error(err))
		air = nil
	}
	if weather == nil && air == nil {
		return ErrNoData
	}

	text, err := notification.RenderDaily(d.region, weather, air)
	if err != nil {
		return err
	}

	recipients, err := d.recipients.ActiveRecipients(ctx)
	if err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		d.logger.Info("No active recipients, daily broadcast skipped")
		return nil
	}

	res := d.sender.Send(ctx, d.sender.NewJob(models.KindDaily, text, recipients))
	if res.Status == models.DispatchFailed {
		return fmt.Errorf("daily broadcast %s failed for all %d recipients", res.MessageID, res.FailureCount)
	}
	return nil
}
