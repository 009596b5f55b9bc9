package app

import (
	"log/slog"

	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/rebuild"
	"stopboard.transitkit.org/internal/store"
)

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware.
type Application struct {
	Config       Config
	GtfsConfig   gtfs.Config
	Logger       *slog.Logger
	Store        store.Store
	Manager      *gtfs.Manager
	LiveFeed     *gtfs.LiveFeed
	Orchestrator *rebuild.Orchestrator
}

// Config holds the process-level configuration settings for our Application:
// the network port, the operating environment name, and the Redis connection
// details (empty address selects the in-process store).
type Config struct {
	Port          int
	Env           string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
}
