package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port           string
	Env            string
	DatabaseDriver string
	DatabaseDSN    string
	HistoryLimit   int
	AnonymousName  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// Load 从环境变量读取配置，缺省值适用于本地开发环境。
func Load() Config {
	port := getenv("APP_PORT", "8080")
	env := getenv("APP_ENV", "dev")
	driver := getenv("DATABASE_DRIVER", "postgres")
	dsn := getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=linechat port=5432 sslmode=disable TimeZone=UTC")
	anon := getenv("ANONYMOUS_NAME", "匿名")
	limitStr := getenv("HISTORY_LIMIT", "100")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 100
	}
	return Config{
		Port:           port,
		Env:            env,
		DatabaseDriver: driver,
		DatabaseDSN:    dsn,
		HistoryLimit:   limit,
		AnonymousName:  anon,
	}
}

// Validate 在启动前检查配置是否完整，避免服务带着坏配置运行。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is empty")
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return errors.New("config: unsupported database driver " + cfg.DatabaseDriver)
	}
	if cfg.HistoryLimit <= 0 {
		return errors.New("config: history limit must be positive")
	}
	if cfg.AnonymousName == "" {
		return errors.New("config: anonymous name is empty")
	}
	return nil
}
