package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Addr string
	// AllowedOrigins lists browser origins permitted by CORS.
	AllowedOrigins []string
}

type Sim struct {
	// Price tick interval is drawn uniformly from [TickMin, TickMax]
	// so the feed does not look metronomic.
	TickMin time.Duration
	TickMax time.Duration

	// Generated ladder depth per side and regeneration cadence.
	BookLevels   int
	BookInterval time.Duration

	// FillDelay is the simulated execution latency for market orders.
	FillDelay time.Duration

	// Synthetic public trade prints.
	TapeEnabled  bool
	TapeInterval time.Duration
}

type Storage struct {
	DataDir     string
	LogFile     string
	JournalFile string
}

type Demo struct {
	// StartingBalance is the quote balance a fresh (or reset) portfolio
	// begins with.
	StartingBalance float64
}

type Config struct {
	Server  Server
	Sim     Sim
	Storage Storage
	Demo    Demo
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Sim: Sim{
			TickMin:      2 * time.Second,
			TickMax:      3 * time.Second,
			BookLevels:   10,
			BookInterval: 2 * time.Second,
			FillDelay:    1500 * time.Millisecond,
			TapeEnabled:  true,
			TapeInterval: 4 * time.Second,
		},
		Storage: Storage{
			DataDir:     "data/carbonx.db",
			LogFile:     "data/carbonxd.log",
			JournalFile: "data/events.log",
		},
		Demo: Demo{
			StartingBalance: 10000,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitCSV(origins)
	}

	cfg.Sim.TickMin = getEnvMillis("PRICE_TICK_MIN_MS", cfg.Sim.TickMin)
	cfg.Sim.TickMax = getEnvMillis("PRICE_TICK_MAX_MS", cfg.Sim.TickMax)
	if cfg.Sim.TickMax < cfg.Sim.TickMin {
		cfg.Sim.TickMax = cfg.Sim.TickMin
	}

	if levels := os.Getenv("BOOK_LEVELS"); levels != "" {
		if n, err := strconv.Atoi(levels); err == nil && n > 0 {
			cfg.Sim.BookLevels = n
		}
	}
	cfg.Sim.BookInterval = getEnvMillis("BOOK_REFRESH_MS", cfg.Sim.BookInterval)
	cfg.Sim.FillDelay = getEnvMillis("FILL_DELAY_MS", cfg.Sim.FillDelay)

	if tape := os.Getenv("TAPE_ENABLED"); tape != "" {
		cfg.Sim.TapeEnabled = tape == "true"
	}
	cfg.Sim.TapeInterval = getEnvMillis("TAPE_INTERVAL_MS", cfg.Sim.TapeInterval)

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.LogFile = getEnv("LOG_FILE", cfg.Storage.LogFile)
	cfg.Storage.JournalFile = getEnv("JOURNAL_FILE", cfg.Storage.JournalFile)

	if bal := os.Getenv("STARTING_BALANCE"); bal != "" {
		if v, err := strconv.ParseFloat(bal, 64); err == nil && v > 0 {
			cfg.Demo.StartingBalance = v
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
