package config

import (
	"log"
	"os"
)

// Config holds all validated environment variables.
type Config struct {
	Port        string
	DBURL       string
	RedisAddr   string
	RedisPass   string
	JWTSecret   string
	AdminSecret string
	APIKey      string
}

// Envs is the global loaded configuration.
var Envs Config

// LoadAndValidate reads the environment and fails fast on missing required
// keys. Optional keys (API_KEY, REDIS_PASSWORD) default to empty.
func LoadAndValidate() {
	Envs = Config{
		Port:        getReq("PORT"),
		DBURL:       getReq("DATABASE_URL"),
		RedisAddr:   getReq("REDIS_ADDR"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		JWTSecret:   getReq("ACCESS_TOKEN_SECRET"),
		AdminSecret: getReq("ADMIN_SECRET"),
		APIKey:      os.Getenv("API_KEY"),
	}
}

func getReq(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: environment variable %s is required but missing", key)
	}
	return val
}
