package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	SessionStore          string
	SessionTTLHours       int
	SessionPurgeSchedule  string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CookieSecure          bool
	MarketAPIKey          string
	MarketStockURL        string
	MarketEarningsURL     string
	MarketTimeoutSeconds  int
}

var defaults = map[string]string{
	"APP_PORT":                 "8080",
	"APP_ENV":                  "dev",
	"LOG_LEVEL":                "info",
	"DATABASE_DRIVER":          "postgres",
	"DATABASE_DSN":             "host=localhost user=postgres password=postgres dbname=nexuschat port=5432 sslmode=disable TimeZone=UTC",
	"JWT_SECRET":               defaultJWTSecret,
	"ACCESS_TOKEN_TTL_MINUTES": "1440",
	"SESSION_STORE":            "db",
	"SESSION_TTL_HOURS":        "336",
	"SESSION_PURGE_SCHEDULE":   "@every 10m",
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 "0",
	"COOKIE_SECURE":            "false",
	"MARKET_API_KEY":           "",
	"MARKET_STOCK_URL":         "https://bloomberg-market-and-financial-news.p.rapidapi.com",
	"MARKET_EARNINGS_URL":      "https://yh-finance.p.rapidapi.com",
	"MARKET_TIMEOUT_SECONDS":   "10",
}

// positiveInt 读取正整数配置，非法或非正值回退到默认值。
func positiveInt(v *viper.Viper, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n <= 0 {
		n, _ = strconv.Atoi(defaults[key])
	}
	return n
}

// Load 先读取可选的 .env 文件（不覆盖已有环境变量），再通过 viper 合并默认值与环境变量。
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()

	redisDB, err := strconv.Atoi(v.GetString("REDIS_DB"))
	if err != nil || redisDB < 0 {
		redisDB = 0
	}

	return Config{
		Port:                  v.GetString("APP_PORT"),
		Env:                   v.GetString("APP_ENV"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		DatabaseDriver:        strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		AccessTokenTTLMinutes: positiveInt(v, "ACCESS_TOKEN_TTL_MINUTES"),
		SessionStore:          strings.ToLower(v.GetString("SESSION_STORE")),
		SessionTTLHours:       positiveInt(v, "SESSION_TTL_HOURS"),
		SessionPurgeSchedule:  v.GetString("SESSION_PURGE_SCHEDULE"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		CookieSecure:          v.GetBool("COOKIE_SECURE"),
		MarketAPIKey:          v.GetString("MARKET_API_KEY"),
		MarketStockURL:        strings.TrimRight(v.GetString("MARKET_STOCK_URL"), "/"),
		MarketEarningsURL:     strings.TrimRight(v.GetString("MARKET_EARNINGS_URL"), "/"),
		MarketTimeoutSeconds:  positiveInt(v, "MARKET_TIMEOUT_SECONDS"),
	}
}

// Validate 校验启动必需的配置项，非 dev 环境禁止使用默认签名密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return errors.New("DATABASE_DRIVER must be postgres or sqlite")
	}
	switch cfg.SessionStore {
	case "db":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis session store")
		}
	default:
		return errors.New("SESSION_STORE must be db or redis")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	return nil
}
