package models

import (
	"time"
)

// Data types used as cache keys and in logs
const (
	DataTypeWeather    = "weather"
	DataTypeAirQuality = "air_quality"
	DataTypeDisaster   = "disaster"
)

// WeatherRecord is the canonical current-conditions reading for a region
type WeatherRecord struct {
	Region            string    `json:"region"`
	Temperature       *float64  `json:"temperature,omitempty"`
	Humidity          *float64  `json:"humidity,omitempty"`
	Precipitation     *float64  `json:"precipitation,omitempty"`
	WindSpeed         *float64  `json:"wind_speed,omitempty"`
	PrecipitationType string    `json:"precipitation_type,omitempty"`
	ObservedAt        time.Time `json:"observed_at"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// AirQualityRecord is the canonical air quality reading for a station
type AirQualityRecord struct {
	Region     string    `json:"region"`
	Station    string    `json:"station"`
	PM10       *float64  `json:"pm10,omitempty"`
	PM25       *float64  `json:"pm25,omitempty"`
	O3         *float64  `json:"o3,omitempty"`
	Grade      string    `json:"grade,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// DisasterMessage is a provider disaster text, normalized but not yet classified
type DisasterMessage struct {
	SerialNumber string    `json:"serial_number"`
	Location     string    `json:"location"`
	Message      string    `json:"message"`
	Step         string    `json:"step,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// DisasterBatch is what the disaster data type caches
type DisasterBatch struct {
	Messages  []DisasterMessage `json:"messages"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// AlertRecord is a classified disaster message. Two records with the same ID
// are the same alert.
type AlertRecord struct {
	ID             string    `json:"id"`
	Region         string    `json:"region"`
	Category       string    `json:"category"`
	Message        string    `json:"message"`
	EmergencyLevel string    `json:"emergency_level"`
	IsEmergency    bool      `json:"is_emergency"`
	ObservedAt     time.Time `json:"observed_at"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// ProcessedAlert is an alert_log entry: an alert that was already handled
type ProcessedAlert struct {
	AlertID     string
	ProcessedAt time.Time
}

// Recipient is a registered welfare recipient
type Recipient struct {
	ID          int64
	Name        string
	PhoneNumber string
	Region      string
	IsActive    bool
}

// DispatchStatus is the lifecycle of a DispatchJob
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "PENDING"
	DispatchSending DispatchStatus = "SENDING"
	DispatchSent    DispatchStatus = "SENT"
	DispatchFailed  DispatchStatus = "FAILED"
)

// Message kinds recorded with each dispatch job
const (
	KindEmergency = "EMERGENCY"
	KindDaily     = "DAILY"
	KindReminder  = "REMINDER"
)

// DispatchJob is one message sent to a set of recipients
type DispatchJob struct {
	MessageID    string
	Kind         string
	Content      string
	AlertID      string
	Recipients   []Recipient
	CreatedAt    time.Time
	Status       DispatchStatus
	SuccessCount int
	FailureCount int
}

// Resolve applies the rollup rule: any success, or no failures at all, is
// SENT; only an all-failed job is FAILED.
func (j *DispatchJob) Resolve() DispatchStatus {
	if j.FailureCount == 0 || j.SuccessCount > 0 {
		j.Status = DispatchSent
	} else {
		j.Status = DispatchFailed
	}
	return j.Status
}

// DeliveryOutcome is the result of one send to one recipient. Never mutated
// after creation.
type DeliveryOutcome struct {
	MessageID   string    `json:"message_id"`
	RecipientID int64     `json:"recipient_id"`
	PhoneNumber string    `json:"phone_number"`
	Succeeded   bool      `json:"succeeded"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// ScheduleType is the recurrence of a custom reminder
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "DAILY"
	ScheduleWeekly  ScheduleType = "WEEKLY"
	ScheduleMonthly ScheduleType = "MONTHLY"
)

// MaxActiveReminders caps active reminders per recipient
const MaxActiveReminders = 5

// ReminderSchedule is a recipient-owned recurring reminder. DayOfWeekOrMonth
// is 0-6 (Sunday=0) for weekly and 1-31 for monthly schedules.
type ReminderSchedule struct {
	ID               int64
	RecipientID      int64
	ScheduleType     ScheduleType
	TimeOfDay        string // HH:MM
	DayOfWeekOrMonth *int
	Message          string
	LastFiredAt      *time.Time
	IsActive         bool
}
