// Package config provides centralized configuration management.
// This is the single source of truth for simulation, matchmaking and
// server settings; everything else references these values.
package config

import (
	"os"
	"strconv"
	"time"

	"strikeball/internal/matchmaking"
	"strikeball/internal/sim"
)

// SimFromEnv returns the engine ruleset with environment overrides.
// Environment variables take precedence over defaults.
func SimFromEnv() sim.EngineConfig {
	cfg := sim.DefaultEngineConfig()

	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvInt("HALF_SECONDS", 0); v > 0 {
		cfg.HalfTicks = uint64(v * cfg.TickRate)
	}
	if v := getEnvInt("WARMUP_SECONDS", 0); v > 0 {
		cfg.WarmupTicks = uint64(v * cfg.TickRate)
	}
	if v := getEnvFloat("FIELD_WIDTH", 0); v > 0 {
		cfg.FieldWidth = v
	}
	if v := getEnvFloat("FIELD_HEIGHT", 0); v > 0 {
		cfg.FieldHeight = v
	}
	if v := getEnvFloat("INPUTS_PER_SECOND", 0); v > 0 {
		cfg.Validator.InputsPerSecond = v
		cfg.Validator.Burst = int(v)
	}
	if v := getEnvInt("VIOLATION_LIMIT", 0); v > 0 {
		cfg.Validator.ViolationLimit = v
	}

	return cfg
}

// MatchmakingFromEnv returns queue settings with environment overrides.
func MatchmakingFromEnv() matchmaking.Config {
	cfg := matchmaking.DefaultConfig()

	if v := getEnvInt("MM_INITIAL_WINDOW", 0); v > 0 {
		cfg.InitialWindow = v
	}
	if v := getEnvInt("MM_WINDOW_INCREMENT", 0); v > 0 {
		cfg.WindowIncrement = v
	}
	if v := getEnvInt("MM_MAX_WINDOW", 0); v > 0 {
		cfg.MaxWindow = v
	}
	if v := getEnvInt("MM_TTL_SECONDS", 0); v > 0 {
		cfg.TTL = time.Duration(v) * time.Second
	}

	return cfg
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
}

// ServerFromEnv returns server settings with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := ServerConfig{Port: 3000}
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	return cfg
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim         sim.EngineConfig
	Matchmaking matchmaking.Config
	Server      ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sim:         SimFromEnv(),
		Matchmaking: MatchmakingFromEnv(),
		Server:      ServerFromEnv(),
	}
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
