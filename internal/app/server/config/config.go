package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	// DefaultSecret is only a fallback for local runs; production must set
	// AUTH_SECRET explicitly.
	DefaultSecret = "SecRetKey"
)

type Config struct {
	Env    string
	DB     DB
	Server Server
	Queue  Queue
	Sync   Sync
	Logger Logger
}

type DB struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type Server struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	MetricsAddress string `env:"METRICS_ADDRESS"`
	Secret         string `env:"AUTH_SECRET"`
}

type Queue struct {
	AMQPURL   string `env:"AMQP_URL"`
	QueueName string `env:"SYNC_QUEUE_NAME"`
}

// Sync holds the tunables of the offline sync engine. The worker retry
// policy lives here deliberately instead of relying on broker defaults.
type Sync struct {
	MaxBatchSize   int           `env:"SYNC_MAX_BATCH_SIZE"`
	AsyncThreshold int           `env:"SYNC_ASYNC_THRESHOLD"`
	DeltaLimit     int           `env:"SYNC_DELTA_LIMIT"`
	MaxAttempts    int           `env:"SYNC_MAX_ATTEMPTS"`
	RetryDelay     time.Duration `env:"SYNC_RETRY_DELAY"`
	PendingTimeout time.Duration `env:"SYNC_PENDING_TIMEOUT"`
	SweepInterval  time.Duration `env:"SYNC_SWEEP_INTERVAL"`
	RetentionDays  int           `env:"SYNC_RETENTION_DAYS"`
	CacheTTL       time.Duration `env:"SYNC_MAPPING_CACHE_TTL"`
}

type Logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func MustLoad() *Config {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	viper.AutomaticEnv()

	viper.SetDefault("run_address", ":8080")
	viper.SetDefault("metrics_address", ":9091")
	viper.SetDefault("migrations_path", "migrations")
	viper.SetDefault("sync_queue_name", "clinisync.batches")
	viper.SetDefault("sync_max_batch_size", 500)
	viper.SetDefault("sync_async_threshold", 50)
	viper.SetDefault("sync_delta_limit", 200)
	viper.SetDefault("sync_max_attempts", 3)
	viper.SetDefault("sync_retry_delay", 30*time.Second)
	viper.SetDefault("sync_pending_timeout", 5*time.Minute)
	viper.SetDefault("sync_sweep_interval", 5*time.Minute)
	viper.SetDefault("sync_retention_days", 90)
	viper.SetDefault("sync_mapping_cache_ttl", 5*time.Minute)

	secret := viper.GetString("auth_secret")
	if secret == "" {
		secret = DefaultSecret
	}

	config := Config{
		Env: viper.GetString("app_env"),
		DB: DB{
			DatabaseURI: viper.GetString("database_uri"),
			Migrations:  viper.GetString("migrations_path"),
		},
		Server: Server{
			RunAddress:     viper.GetString("run_address"),
			MetricsAddress: viper.GetString("metrics_address"),
			Secret:         secret,
		},
		Queue: Queue{
			AMQPURL:   viper.GetString("amqp_url"),
			QueueName: viper.GetString("sync_queue_name"),
		},
		Sync: Sync{
			MaxBatchSize:   viper.GetInt("sync_max_batch_size"),
			AsyncThreshold: viper.GetInt("sync_async_threshold"),
			DeltaLimit:     viper.GetInt("sync_delta_limit"),
			MaxAttempts:    viper.GetInt("sync_max_attempts"),
			RetryDelay:     viper.GetDuration("sync_retry_delay"),
			PendingTimeout: viper.GetDuration("sync_pending_timeout"),
			SweepInterval:  viper.GetDuration("sync_sweep_interval"),
			RetentionDays:  viper.GetInt("sync_retention_days"),
			CacheTTL:       viper.GetDuration("sync_mapping_cache_ttl"),
		},
		Logger: Logger{LogLevel: viper.GetString("log_level")},
	}

	return &config
}
