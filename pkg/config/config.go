package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers ProvidersConfig
	SMS       SMSConfig
	SMTP      SMTPConfig
	Dispatch  DispatchConfig
	Emergency EmergencyConfig
	Schedule  ScheduleConfig
	Admin     AdminConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicAudit    string
	ConsumerGroup string
	BatchSize     int
	FlushInterval time.Duration
}

// ProvidersConfig holds the public data API endpoints. All three share one
// service key, which is how the public data portal issues them.
type ProvidersConfig struct {
	ServiceKey      string
	WeatherURL      string
	AirQualityURL   string
	DisasterURL     string
	Timeout         time.Duration
	Region          string
	GridX           int
	GridY           int
	Station         string
	RetryAttempts   int
	RetryDelay      time.Duration
	RetryMultiplier float64
}

type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
	Timeout    time.Duration
	DryRun     bool
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type DispatchConfig struct {
	BatchSize     int
	BatchPause    time.Duration
	SingleRetries int
	SingleDelay   time.Duration
}

type EmergencyConfig struct {
	PollInterval    time.Duration
	FetchTimeout    time.Duration
	FetchRetryDelay time.Duration
	SLA             time.Duration
	SendRetries     int
	SendRetryDelay  time.Duration
	LookbackHours   int
	DedupWindow     time.Duration
	DedupMaxSize    int
	RulesPath       string
}

type ScheduleConfig struct {
	DailyBroadcast     string
	WeatherRefresh     time.Duration
	AirQualityRefresh  time.Duration
	CacheCleanup       time.Duration
	Location           string
	RemindersEnabled   bool
	BroadcastEnabled   bool
	StaleCacheRetained time.Duration
}

type AdminConfig struct {
	Addr string
}

type LogConfig struct {
	Level   string
	Format  string
	Service string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "welfare_user"),
			Password: getEnv("DB_PASSWORD", "welfare_pass"),
			DBName:   getEnv("DB_NAME", "welfare_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "welfare:cache"),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAudit:    getEnv("KAFKA_TOPIC_AUDIT", "welfare.dispatch.audit"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "auditwriter-group"),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			FlushInterval: getEnvAsDuration("KAFKA_FLUSH_INTERVAL", 5*time.Second),
		},
		Providers: ProvidersConfig{
			ServiceKey:      getEnv("PUBLIC_DATA_SERVICE_KEY", ""),
			WeatherURL:      getEnv("WEATHER_API_URL", "https://apis.data.go.kr/1360000/VilageFcstInfoService_2.0/getUltraSrtNcst"),
			AirQualityURL:   getEnv("AIR_QUALITY_API_URL", "https://apis.data.go.kr/B552584/ArpltnInforInqireSvc/getMsrstnAcctoRltmMesureDnsty"),
			DisasterURL:     getEnv("DISASTER_API_URL", "https://www.safetydata.go.kr/V2/api/DSSP-IF-00247"),
			Timeout:         getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			Region:          getEnv("REGION_NAME", "서울특별시"),
			GridX:           getEnvAsInt("WEATHER_GRID_X", 60),
			GridY:           getEnvAsInt("WEATHER_GRID_Y", 127),
			Station:         getEnv("AIR_QUALITY_STATION", "종로구"),
			RetryAttempts:   getEnvAsInt("FETCH_RETRY_ATTEMPTS", 3),
			RetryDelay:      getEnvAsDuration("FETCH_RETRY_DELAY", time.Minute),
			RetryMultiplier: getEnvAsFloat("FETCH_RETRY_MULTIPLIER", 1.5),
		},
		SMS: SMSConfig{
			GatewayURL: getEnv("SMS_GATEWAY_URL", ""),
			APIKey:     getEnv("SMS_API_KEY", ""),
			Sender:     getEnv("SMS_SENDER", ""),
			Timeout:    getEnvAsDuration("SMS_TIMEOUT", 10*time.Second),
			DryRun:     getEnvAsBool("SMS_DRY_RUN", false),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "welfare-notifier@example.com"),
			To:       getEnv("SMTP_TO", "ops@example.com"),
		},
		Dispatch: DispatchConfig{
			BatchSize:     getEnvAsInt("DISPATCH_BATCH_SIZE", 50),
			BatchPause:    getEnvAsDuration("DISPATCH_BATCH_PAUSE", 500*time.Millisecond),
			SingleRetries: getEnvAsInt("DISPATCH_SINGLE_RETRIES", 3),
			SingleDelay:   getEnvAsDuration("DISPATCH_SINGLE_DELAY", 5*time.Second),
		},
		Emergency: EmergencyConfig{
			PollInterval:    getEnvAsDuration("EMERGENCY_POLL_INTERVAL", 2*time.Minute),
			FetchTimeout:    getEnvAsDuration("EMERGENCY_FETCH_TIMEOUT", 60*time.Second),
			FetchRetryDelay: getEnvAsDuration("EMERGENCY_FETCH_RETRY_DELAY", 5*time.Second),
			SLA:             getEnvAsDuration("EMERGENCY_SLA", 5*time.Minute),
			SendRetries:     getEnvAsInt("EMERGENCY_SEND_RETRIES", 3),
			SendRetryDelay:  getEnvAsDuration("EMERGENCY_SEND_RETRY_DELAY", 10*time.Second),
			LookbackHours:   getEnvAsInt("EMERGENCY_LOOKBACK_HOURS", 1),
			DedupWindow:     getEnvAsDuration("EMERGENCY_DEDUP_WINDOW", 24*time.Hour),
			DedupMaxSize:    getEnvAsInt("EMERGENCY_DEDUP_MAX_SIZE", 1000),
			RulesPath:       getEnv("ALERT_RULES_PATH", ""),
		},
		Schedule: ScheduleConfig{
			DailyBroadcast:     getEnv("SCHEDULE_DAILY_BROADCAST", "07:00"),
			WeatherRefresh:     getEnvAsDuration("SCHEDULE_WEATHER_REFRESH", time.Hour),
			AirQualityRefresh:  getEnvAsDuration("SCHEDULE_AIR_QUALITY_REFRESH", 2*time.Hour),
			CacheCleanup:       getEnvAsDuration("SCHEDULE_CACHE_CLEANUP", time.Hour),
			Location:           getEnv("SCHEDULE_TIMEZONE", "Asia/Seoul"),
			RemindersEnabled:   getEnvAsBool("SCHEDULE_REMINDERS_ENABLED", true),
			BroadcastEnabled:   getEnvAsBool("SCHEDULE_BROADCAST_ENABLED", true),
			StaleCacheRetained: getEnvAsDuration("CACHE_STALE_RETENTION", 24*time.Hour),
		},
		Admin: AdminConfig{
			Addr: getEnv("ADMIN_ADDR", ":8080"),
		},
		Log: LogConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  getEnv("LOG_FORMAT", "json"),
			Service: getEnv("SERVICE_NAME", "welfare-notifier"),
		},
	}

	if config.Dispatch.BatchSize <= 0 {
		return nil, fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", config.Dispatch.BatchSize)
	}
	if config.Emergency.PollInterval >= config.Emergency.SLA {
		return nil, fmt.Errorf("EMERGENCY_POLL_INTERVAL (%s) must be shorter than EMERGENCY_SLA (%s)",
			config.Emergency.PollInterval, config.Emergency.SLA)
	}

	if config.Emergency.FetchRetryDelay >= config.Emergency.FetchTimeout {
		return nil, fmt.Errorf("EMERGENCY_FETCH_RETRY_DELAY (%s) must be shorter than EMERGENCY_FETCH_TIMEOUT (%s)",
			config.Emergency.FetchRetryDelay, config.Emergency.FetchTimeout)
	}

	return config, nil
}

// ParseTimeOfDay parses "HH:MM" into hour and minute.
func ParseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
