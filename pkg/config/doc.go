// Package config loads typed configuration structs from environment variables.
//
// It wraps github.com/joho/godotenv (optional .env files) and
// github.com/caarlos0/env/v11 (struct tag parsing). Every component of the
// delivery core exposes a Config struct tagged with `env` and `envDefault`;
// Load parses one of them and caches the result per type.
package config
