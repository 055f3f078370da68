package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8001"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
		// Таймаут одного вызова транспорта: хендлеры не должны висеть
		// на сетевых операциях без ограничения.
		CallTimeout time.Duration `envconfig:"TG_CALL_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Backend struct {
		// Базовый URL Go-бэкенда: проверка бана, запрещённые слова,
		// сохранение ссылок на каналы.
		URL     string        `envconfig:"BACKEND_URL" default:"http://app:8080"`
		Timeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Drafts struct {
		Interval time.Duration `envconfig:"DRAFTS_INTERVAL" default:"60s"`
	} `envconfig:""`

	Blobs struct {
		// Пустое значение — системный каталог временных файлов.
		Dir string `envconfig:"BLOBS_DIR"`
	} `envconfig:""`

	// Необязательные зависимости: пустое значение отключает компонент.
	RedisAddr           string        `envconfig:"REDIS_ADDR"`
	CodeRequestThrottle time.Duration `envconfig:"CODE_REQUEST_THROTTLE" default:"30s"`

	PGDSN string `envconfig:"PG_DSN"`

	Alerts struct {
		BotToken string `envconfig:"ALERT_BOT_TOKEN"`
		ChatID   int64  `envconfig:"ALERT_CHAT_ID"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
