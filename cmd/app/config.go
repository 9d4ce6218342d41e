package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	Host     string
	Port     string
	LogLevel string

	HealthInterval    time.Duration
	ProbeTimeout      time.Duration
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	MaxInFlight       int64

	DirectoryHost string
	SeedDir       string
	GeoIPDB       string
	DNSServer     string
	ProbeSocks5   string

	AtomicCollection  string
	AtomicMarketOwner string

	ClientRateLimit float64
	ClientRateBurst int
	TrustedProxies  string
}

func loadConfig() config {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	return config{
		Host:     getEnv("SERVER_HOST", "0.0.0.0"),
		Port:     getEnv("SERVER_PORT", "3000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HealthInterval:    getMillis("HEALTH_CHECK_INTERVAL", 520000),
		ProbeTimeout:      getMillis("TIMEOUT_DURATION", 5000),
		RefreshInterval:   getMillis("NODE_LIST_REFRESH_INTERVAL", 86400000),
		HeartbeatInterval: getMillis("HEARTBEAT_INTERVAL", 10000),
		MaxInFlight:       int64(getInt("MAX_INFLIGHT_PROBES", 64)),

		DirectoryHost: getEnv("DIRECTORY_HOST", "wax.sengine.co"),
		SeedDir:       getEnv("SEED_DIR", "configs/nodes"),
		GeoIPDB:       getEnv("GEOIP_DB", ""),
		DNSServer:     getEnv("DNS_SERVER", ""),
		ProbeSocks5:   getEnv("PROBE_SOCKS5", ""),

		AtomicCollection:  getEnv("ATOMIC_COLLECTION", "kogsofficial"),
		AtomicMarketOwner: getEnv("ATOMIC_MARKET_OWNER", "sentnlagents"),

		ClientRateLimit: getFloat("CLIENT_RATE_LIMIT", 10),
		ClientRateBurst: getInt("CLIENT_RATE_BURST", 20),
		TrustedProxies:  getEnv("TRUSTED_PROXIES", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

// getMillis reads a duration given in milliseconds; non-positive values use def.
func getMillis(key string, def int) time.Duration {
	ms := getInt(key, def)
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
