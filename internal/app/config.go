package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// Config is the process-level configuration. Environment variables are
// the primary source; an optional YAML file named by AEGISKB_CONFIG
// overrides them, which is how deployments pin settings without editing
// the unit environment.
type Config struct {
	Port        string
	LogMode     string
	Environment string
	Version     string
	JWTSecret   string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Environment string `yaml:"environment"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Port:        utils.GetEnv("HTTP_PORT", "8080", log),
		LogMode:     utils.GetEnv("LOG_MODE", "development", log),
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
		JWTSecret:   utils.GetEnv("JWT_SECRET", "", log),
	}

	if path := strings.TrimSpace(os.Getenv("AEGISKB_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if fc.Server.Port != "" {
			cfg.Port = fc.Server.Port
		}
		if fc.Log.Mode != "" {
			cfg.LogMode = fc.Log.Mode
		}
		if fc.Auth.JWTSecret != "" {
			cfg.JWTSecret = fc.Auth.JWTSecret
		}
		if fc.Environment != "" {
			cfg.Environment = fc.Environment
		}
		log.Info("Config file applied", "path", path)
	}

	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}
