package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Client это настройки терминального клиента и контроллеров
type Client struct {
	APIURL             string        `env:"CINNA_API_URL,default=http://127.0.0.1:8000/api"`
	RequestTimeout     time.Duration `env:"CINNA_REQUEST_TIMEOUT,default=15s"`
	GetRetries         uint64        `env:"CINNA_GET_RETRIES,default=2"`
	RetryBase          time.Duration `env:"CINNA_RETRY_BASE,default=300ms"`
	SessionFile        string        `env:"CINNA_SESSION_FILE"`
	ChatListInterval   time.Duration `env:"CINNA_CHAT_LIST_INTERVAL,default=2s"`
	ChatActiveInterval time.Duration `env:"CINNA_CHAT_ACTIVE_INTERVAL,default=1500ms"`
	BadgeInterval      time.Duration `env:"CINNA_BADGE_INTERVAL,default=10s"`
	LogLevel           string        `env:"CINNA_LOG_LEVEL,default=info"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Server это настройки контрактного сервера
type Server struct {
	Addr               string        `env:"SERVER_ADDRESS,default=0.0.0.0:8080"`
	PostgresConn       string        `env:"POSTGRES_CONN,required"`
	MediaRoot          string        `env:"MEDIA_ROOT,default=./media"`
	QualityServiceURL  string        `env:"QUALITY_SERVICE_URL"`
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL,default=1h"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL,default=336h"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE,default=300"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadClient читает .env (если есть) и переменные окружения
func LoadClient(ctx context.Context) (Client, error) {
	_ = godotenv.Load()

	var cfg Client
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Client{}, err
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}
	return cfg, nil
}

func LoadServer(ctx context.Context) (Server, error) {
	_ = godotenv.Load()

	var cfg Server
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cinna", "session.json")
}
