package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	GRPCPort string
	Backend  string // "influx" | "mock"
	LogLevel string
	Fleet    string
	Origins  []string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPass     string
	MQTTClientID string

	RecomputeDelay time.Duration
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func envDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := time.ParseDuration(v); err == nil {
			return n
		}
	}
	return d
}

func envList(k string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(k), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadConfig() Config {
	return Config{
		Port:     env("PORT", "8080"),
		GRPCPort: env("GRPC_PORT", "50052"),
		Backend:  strings.ToLower(env("HISTORIAN_BACKEND", "influx")),
		LogLevel: env("LOG_LEVEL", "info"),
		Fleet:    env("FLEET_CONFIG", ""),
		Origins:  envList("CORS_ORIGINS"),

		InfluxURL:    env("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  env("INFLUX_TOKEN", ""),
		InfluxOrg:    env("INFLUX_ORG", "greenhouse"),
		InfluxBucket: env("INFLUX_BUCKET", "greenhouse"),

		MQTTHost:     env("MQTT_HOST", "localhost"),
		MQTTPort:     envInt("MQTT_PORT", 1883),
		MQTTUser:     env("MQTT_USER", "guest"),
		MQTTPass:     env("MQTT_PASS", "guest"),
		MQTTClientID: env("MQTT_CLIENT_ID", "historian"),

		RecomputeDelay: envDuration("MOCK_RECOMPUTE_DELAY", 3*time.Second),
	}
}
