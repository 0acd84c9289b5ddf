package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

// Config centralizes every tuning knob the pipeline uses. Thresholds and
// backoff curves live here as named settings, not as constants sprinkled
// across call sites.
type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`

	MailRelayURL  string `env:"MAIL_RELAY_URL,required=true"`
	FormWorkerURL string `env:"FORM_WORKER_URL,required=true"`
	ScanProbeURL  string `env:"SCAN_PROBE_URL"`

	// SchedulerSecret is the shared bearer credential cron triggers present.
	SchedulerSecret string `env:"SCHEDULER_SECRET,required=true"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// Batch processing.
	BatchSize          int `env:"BATCH_SIZE,default=50"`
	RunBudgetSeconds   int `env:"RUN_BUDGET_SECONDS,default=300"`
	RunSafetySeconds   int `env:"RUN_SAFETY_SECONDS,default=60"`
	JobLeaseSeconds    int `env:"JOB_LEASE_SECONDS,default=300"`
	MaxSendAttempts    int `env:"MAX_SEND_ATTEMPTS,default=3"`
	RetryBackoffHours  int `env:"RETRY_BACKOFF_HOURS,default=4"`
	RetryBackoffCapHrs int `env:"RETRY_BACKOFF_CAP_HOURS,default=48"`

	// Per-broker rate limiting.
	BrokerDailyCap       int `env:"BROKER_DAILY_CAP,default=25"`
	BrokerMinSpacingMins int `env:"BROKER_MIN_SPACING_MINUTES,default=15"`

	// Intelligence and anomaly detection.
	IntelligenceWindowDays int     `env:"INTELLIGENCE_WINDOW_DAYS,default=30"`
	LowSuccessThreshold    float64 `env:"LOW_SUCCESS_THRESHOLD,default=0.4"`
	HighSuccessThreshold   float64 `env:"HIGH_SUCCESS_THRESHOLD,default=0.75"`
	AnomalyZScoreThreshold float64 `env:"ANOMALY_ZSCORE_THRESHOLD,default=3.0"`
	AnomalyMinSamples      int     `env:"ANOMALY_MIN_SAMPLES,default=10"`

	// Verification sweep.
	VerifyBaseWaitDays   int `env:"VERIFY_BASE_WAIT_DAYS,default=7"`
	VerifyRecheckDays    int `env:"VERIFY_RECHECK_DAYS,default=14"`
	VerifyHighRiskFactor int `env:"VERIFY_HIGH_RISK_FACTOR,default=2"`

	// Email delivery gate.
	SoftBounceThreshold int `env:"SOFT_BOUNCE_THRESHOLD,default=3"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// RunDeadline derives the wall-clock deadline for one invocation from the
// platform budget minus the safety buffer.
func (c *Config) RunDeadline(now time.Time) time.Time {
	budget := time.Duration(c.RunBudgetSeconds-c.RunSafetySeconds) * time.Second
	if budget <= 0 {
		budget = time.Duration(c.RunBudgetSeconds) * time.Second
	}
	return now.Add(budget)
}

// JobLease returns the lock lease duration for scheduled jobs.
func (c *Config) JobLease() time.Duration {
	return time.Duration(c.JobLeaseSeconds) * time.Second
}

// BrokerMinSpacing returns the minimum gap between consecutive sends to the
// same broker.
func (c *Config) BrokerMinSpacing() time.Duration {
	return time.Duration(c.BrokerMinSpacingMins) * time.Minute
}

// RetryBackoff computes the wait before the next retry after the given number
// of failed attempts: base * 2^(attempts-1), capped.
func (c *Config) RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := time.Duration(c.RetryBackoffHours) * time.Hour
	limit := time.Duration(c.RetryBackoffCapHrs) * time.Hour

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		delay = limit
	}
	return delay
}
