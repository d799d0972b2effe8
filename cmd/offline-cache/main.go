package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/config"
	"github.com/always-cache/offline-cache/pkg/tracing"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	portFlag           int
	dbFilenameFlag     string
	manifestFlag       string
	assetVersionFlag   string
	skipWaitingFlag    bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&manifestFlag, "manifest", "", "YAML manifest of the URLs stored on install")
	flag.StringVar(&assetVersionFlag, "version", "", "Asset version, a new version migrates the cache")
	flag.BoolVar(&skipWaitingFlag, "skip-waiting", false, "Activate new versions without waiting for clients")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	originURL, err := cfg.OriginURL()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}
	m, err := cfg.Manifest()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load manifest")
	}

	ctx := context.Background()
	shutdown, err := tracing.Setup(ctx, cfg.AppID, cfg.Version, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up tracing")
	}
	defer shutdown(ctx)

	provider, err := cache.NewSQLiteCache(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache")
	}
	defer provider.Close()

	worker, err := offlinecache.CreateWorker(offlinecache.Config{
		AppID:         cfg.AppID,
		Version:       cfg.Version,
		Cache:         provider,
		OriginURL:     *originURL,
		Manifest:      m,
		ExternalHosts: cfg.ExternalHosts,
		APIPrefix:     cfg.APIPrefix,
		FetchTimeout:  cfg.FetchTimeout,
		SlowThreshold: cfg.SlowThreshold,
		SkipWaiting:   cfg.SkipWaiting,
		Logger:        &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}

	reg := offlinecache.NewRegistration(offlinecache.RegistrationConfig{
		OriginURL: *originURL,
		Logger:    &log.Logger,
	})
	if err := reg.Register(ctx, worker); err != nil {
		// clients are passed through to the origin until a worker installs
		log.Error().Err(err).Msg("Could not register worker")
	}

	log.Info().Msgf("Proxying port %v to %s (app %s, version %s)", cfg.Port, originURL.String(), cfg.AppID, cfg.Version)
	err = http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), offlinecache.NewServer(reg, cfg.ControlPrefix))

	if err != nil {
		panic(err)
	}
}

// applyFlags overrides the loaded config with the flags that were set.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			cfg.Origin = originFlag
		case "port":
			cfg.Port = portFlag
		case "db":
			cfg.DB = dbFilenameFlag
		case "manifest":
			cfg.ManifestFile = manifestFlag
		case "version":
			cfg.Version = assetVersionFlag
		case "skip-waiting":
			cfg.SkipWaiting = skipWaitingFlag
		}
	})
}
