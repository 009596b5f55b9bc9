package app

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stopboard.transitkit.org/internal/gtfs"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// ParseFlags reads configuration from flags with environment-variable
// defaults, so containerized deployments can configure everything through the
// environment while flags stay convenient for development. Both binaries
// parse the same set, keeping the server and the rebuild worker in agreement
// about sources, filter and data directory.
func ParseFlags(name string, args []string) (Config, gtfs.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	var cfg Config
	var gtfsCfg gtfs.Config
	var filterFlag string

	fs.IntVar(&cfg.Port, "port", envIntOr("PORT", 4000), "API server port")
	fs.StringVar(&cfg.Env, "env", envOr("ENV", "development"), "Environment (development|staging|production)")
	fs.StringVar(&cfg.RedisAddress, "redis-address", envOr("REDIS_ADDRESS", ""), "Redis address; empty selects the in-process store")
	fs.StringVar(&cfg.RedisPassword, "redis-password", envOr("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", envIntOr("REDIS_DB", 0), "Redis database number")

	fs.StringVar(&gtfsCfg.StaticURL, "static-url", envOr("GTFS_STATIC_URL", ""), "Static GTFS archive URL or file path")
	fs.StringVar(&gtfsCfg.TripUpdatesURL, "trip-updates-url", envOr("GTFS_TRIP_UPDATES_URL", ""), "GTFS-Realtime trip updates feed URL")
	fs.StringVar(&gtfsCfg.APIKey, "api-key", envOr("GTFS_API_KEY", ""), "API key sent to the trip updates feed")
	fs.StringVar(&gtfsCfg.DataDir, "data-dir", envOr("DATA_DIR", "data"), "Directory for the snapshot bundle")
	fs.StringVar(&filterFlag, "filter-stops", envOr("FILTER_STOPS", ""), "Comma separated stop ids or codes to retain; empty keeps all")
	fs.DurationVar(&gtfsCfg.PollingPeriod, "polling-period", envDurationOr("POLLING_PERIOD", time.Minute), "Trip updates poll interval")
	fs.IntVar(&gtfsCfg.HorizonMinutes, "max-minutes", envIntOr("MAX_MINUTES", 60), "Default arrivals lookahead in minutes")

	if err := fs.Parse(args); err != nil {
		return Config{}, gtfs.Config{}, err
	}

	if filterFlag != "" {
		gtfsCfg.StopFilter = strings.Split(filterFlag, ",")
	}
	gtfsCfg.StopFilter = gtfsCfg.CanonicalFilter()

	if gtfsCfg.StaticURL == "" {
		return Config{}, gtfs.Config{}, fmt.Errorf("static-url is required")
	}
	return cfg, gtfsCfg, nil
}
