package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string        `yaml:"env" env-default:"development"`
	HttpServer    HttpServer    `yaml:"http_server"`
	Upstream      Upstream      `yaml:"upstream"`
	Catalog       Catalog       `yaml:"catalog"`
	Notifications Notifications `yaml:"notifications"`
}

type HttpServer struct {
	Address     string        `yaml:"address"      env:"ADDRESS" env-default:":8080"`
	Timeout     time.Duration `yaml:"timeout"      env:"TIMEOUT" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" env-default:"60s"`
}

type Upstream struct {
	BaseURL string        `yaml:"base_url" env:"UPSTREAM_BASE_URL"`
	Timeout time.Duration `yaml:"timeout"  env:"UPSTREAM_TIMEOUT" env-default:"10s"`
	// AdminToken authorizes the unread-count poller.
	AdminToken string `yaml:"admin_token" env:"UPSTREAM_ADMIN_TOKEN"`
}

type Catalog struct {
	ListTTL       time.Duration `yaml:"list_ttl"       env:"CATALOG_LIST_TTL" env-default:"5m"`
	CategoriesTTL time.Duration `yaml:"categories_ttl" env:"CATALOG_CATEGORIES_TTL" env-default:"25m"`
}

type Notifications struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"NOTIFICATIONS_POLL_INTERVAL" env-default:"30s"`
}

func MustLoad() Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH environment variable not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %s", configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("Can't read config: %s", err)
	}
	return cfg
}
