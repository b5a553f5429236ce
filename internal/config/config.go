package config

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Cron     CronConfig
	Report   ReportConfig
	Fetch    FetchConfig
	Mail     MailConfig
	Telegram TelegramConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Driver     string // "mysql", "sqlite"
	Host       string
	Port       string
	Name       string
	User       string
	Pass       string
	Charset    string
	SQLitePath string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type QueueConfig struct {
	GenerationConcurrency int
	MailConcurrency       int
	MaxAttempts           int
	Backoff               time.Duration
	PollInterval          time.Duration
	StallTimeout          time.Duration
}

type CronConfig struct {
	SweepSchedule string
	Timezone      string
	CatchUp       bool
	TaskLockTTL   time.Duration
}

type ReportConfig struct {
	Dir    string
	Locale string
	Cols   int
	Rows   int
}

type FetchConfig struct {
	URL       string
	Username  string
	Password  string
	APIKey    string
	DateField string
	RateLimit float64
	Timeout   time.Duration
	Retries   int
	Insecure  bool
}

type MailConfig struct {
	SendGridAPIKey  string
	From            string
	AlertRecipients []string
}

type TelegramConfig struct {
	Token  string
	ChatID string
}

type APIConfig struct {
	Key string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Queue: QueueConfig{
			GenerationConcurrency: positive(viper.GetInt("QUEUE_GENERATION_CONCURRENCY"), 1),
			MailConcurrency:       positive(viper.GetInt("QUEUE_MAIL_CONCURRENCY"), 2),
			MaxAttempts:           positive(viper.GetInt("QUEUE_MAX_ATTEMPTS"), 3),
			Backoff:               duration("QUEUE_BACKOFF", 30*time.Second),
			PollInterval:          duration("QUEUE_POLL_INTERVAL", 2*time.Second),
			StallTimeout:          duration("QUEUE_STALL_TIMEOUT", 5*time.Minute),
		},
		Cron: CronConfig{
			SweepSchedule: viper.GetString("CRON_SWEEP_SCHEDULE"),
			Timezone:      viper.GetString("CRON_TIMEZONE"),
			CatchUp:       viper.GetBool("SWEEP_CATCH_UP"),
			TaskLockTTL:   duration("TASK_LOCK_TTL", 30*time.Minute),
		},
		Report: ReportConfig{
			Dir:    viper.GetString("REPORT_DIR"),
			Locale: viper.GetString("REPORT_LOCALE"),
		},
		Fetch: FetchConfig{
			URL:       viper.GetString("FETCH_URL"),
			Username:  viper.GetString("FETCH_USERNAME"),
			Password:  viper.GetString("FETCH_PASSWORD"),
			APIKey:    viper.GetString("FETCH_API_KEY"),
			DateField: viper.GetString("FETCH_DATE_FIELD"),
			RateLimit: viper.GetFloat64("FETCH_RATE_LIMIT"),
			Timeout:   duration("FETCH_TIMEOUT", 30*time.Second),
			Retries:   viper.GetInt("FETCH_RETRIES"),
			Insecure:  viper.GetBool("FETCH_INSECURE"),
		},
		Mail: MailConfig{
			SendGridAPIKey:  viper.GetString("SENDGRID_API_KEY"),
			From:            viper.GetString("MAIL_FROM"),
			AlertRecipients: splitList(viper.GetString("MAIL_ALERT_RECIPIENTS")),
		},
		Telegram: TelegramConfig{
			Token:  viper.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID: viper.GetString("TELEGRAM_CHAT_ID"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
	}
	cfg.Report.Cols, cfg.Report.Rows = parseGrid(viper.GetString("REPORT_GRID"))

	if cfg.Database.Driver == "mysql" && cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.API.Key == "" {
		log.Println("WARNING: API_KEY is not set")
	}
	if cfg.Fetch.URL == "" {
		log.Println("WARNING: FETCH_URL is not set")
	}

	return cfg, nil
}

// LoadDatabaseOnly reads the database settings, used by the bootstrap command.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()
	setDefaults()

	db := databaseFromEnv()
	return &db, nil
}

func setDefaults() {
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("SQLITE_PATH", "reportd.db")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("QUEUE_GENERATION_CONCURRENCY", 1)
	viper.SetDefault("QUEUE_MAIL_CONCURRENCY", 2)
	viper.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	viper.SetDefault("QUEUE_BACKOFF", "30s")
	viper.SetDefault("QUEUE_POLL_INTERVAL", "2s")
	viper.SetDefault("QUEUE_STALL_TIMEOUT", "5m")
	viper.SetDefault("CRON_SWEEP_SCHEDULE", "0 0 0 * * *")
	viper.SetDefault("CRON_TIMEZONE", "UTC")
	viper.SetDefault("SWEEP_CATCH_UP", false)
	viper.SetDefault("TASK_LOCK_TTL", "30m")
	viper.SetDefault("REPORT_DIR", "data/reports")
	viper.SetDefault("REPORT_LOCALE", "fr")
	viper.SetDefault("REPORT_GRID", "2x2")
	viper.SetDefault("FETCH_DATE_FIELD", "datetime")
	viper.SetDefault("FETCH_RATE_LIMIT", 5)
	viper.SetDefault("FETCH_TIMEOUT", "30s")
	viper.SetDefault("FETCH_RETRIES", 2)
	viper.SetDefault("FETCH_INSECURE", false)
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Driver:     strings.ToLower(viper.GetString("DB_DRIVER")),
		Host:       viper.GetString("DB_HOST"),
		Port:       viper.GetString("DB_PORT"),
		Name:       viper.GetString("DB_NAME"),
		User:       viper.GetString("DB_USER"),
		Pass:       viper.GetString("DB_PASS"),
		Charset:    viper.GetString("DB_CHARSET"),
		SQLitePath: viper.GetString("SQLITE_PATH"),
	}
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
}

func duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseGrid reads a "<cols>x<rows>" grid, falling back to 2x2.
func parseGrid(raw string) (int, int) {
	var cols, rows int
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(raw)), "x", 2)
	if len(parts) == 2 {
		cols = atoi(parts[0])
		rows = atoi(parts[1])
	}
	if cols <= 0 || rows <= 0 {
		return 2, 2
	}
	return cols, rows
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
