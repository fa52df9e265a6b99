package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	redisclient "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/robfig/cron"

	"github.com/fleetwatch/fleetwatch/cli/tracker/api"
	"github.com/fleetwatch/fleetwatch/cli/tracker/config"
	"github.com/fleetwatch/fleetwatch/cli/tracker/fleet"
	"github.com/fleetwatch/fleetwatch/cli/tracker/geocode"
	"github.com/fleetwatch/fleetwatch/cli/tracker/history"
	"github.com/fleetwatch/fleetwatch/cli/tracker/ingest"
	"github.com/fleetwatch/fleetwatch/cli/tracker/storage"
	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
	"github.com/fleetwatch/fleetwatch/cli/tracker/util"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	// .env is optional; it only seeds TRACKER_CONFIG for local runs.
	_ = godotenv.Load()

	configFilePath := ""
	flag.StringVar(&configFilePath, "c", "", "")
	flag.Parse()
	conf, err := getConfig(configFilePath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
		return
	}

	configureLogging(conf)

	if err := applyMigrations(conf); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
		return
	}

	sink := buildSink(conf)
	if sink != nil {
		defer sink.Close()
	}

	store := fleet.NewStore(conf.GetInactiveAfter())
	historyClient := history.NewClient(conf.APIBaseURL, 15*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loadFleet(ctx, historyClient, store)

	adapter := ingest.NewAdapter(conf.SocketURL, store, historyClient, eventSink(sink),
		ingest.ClientOptions{
			RetryDelay:  conf.GetReconnectDelay(),
			MaxRetries:  conf.MaxReconnectAttempts,
			DialTimeout: 10 * time.Second,
			AckTimeout:  2 * time.Second,
		},
		ingest.AdapterOptions{
			PollInterval:   conf.GetPollInterval(),
			ConnectTimeout: 15 * time.Second,
		},
	)
	adapter.Run(ctx)
	defer adapter.Close()

	scheduleSweep(conf, store)

	runApi(conf, store, historyClient, buildGeocoder(conf), adapter)
}

func getConfig(configFilePath string) (config.Settings, error) {
	var c config.Settings
	var err error

	if configFilePath == "" {
		configFilePath = os.Getenv("TRACKER_CONFIG")
	}
	if configFilePath == "" {
		return c, &util.ErrorString{S: "config path not set"}
	}

	c, err = config.New(configFilePath)
	if err != nil {
		return c, fmt.Errorf("failed to parse config: %v", err)
	}

	return c, nil
}

func configureLogging(conf config.Settings) {
	log.SetLevel(conf.GetLogLevel())

	consoleFmt := &log.TextFormatter{ForceColors: true, FullTimestamp: false}
	log.SetFormatter(consoleFmt)
	log.SetOutput(os.Stdout)

	if conf.LogFilePath != "" {
		logDir := filepath.Dir(conf.LogFilePath)
		if _, err := os.Stat(logDir); os.IsNotExist(err) {
			if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
				log.Fatalf("failed to create log directory: %v", err)
			}
		}

		lumberjackLogger := &lumberjack.Logger{
			Filename:   conf.LogFilePath,
			MaxSize:    100,
			MaxBackups: 366,
			MaxAge:     conf.LogMaxAgeDays,
			Compress:   true,
		}

		fileFmt := &log.TextFormatter{DisableColors: true, FullTimestamp: true}
		hook := lfshook.NewHook(lfshook.WriterMap{
			log.PanicLevel: lumberjackLogger,
			log.FatalLevel: lumberjackLogger,
			log.ErrorLevel: lumberjackLogger,
			log.WarnLevel:  lumberjackLogger,
			log.InfoLevel:  lumberjackLogger,
			log.DebugLevel: lumberjackLogger,
			log.TraceLevel: lumberjackLogger,
		}, fileFmt)

		log.AddHook(hook)
	}
}

// applyMigrations runs the event-log migrations when a postgresql sink
// is configured. Other sinks manage their own schema.
func applyMigrations(conf config.Settings) error {
	pg, ok := conf.Sinks["postgresql"]
	if !ok {
		return nil
	}

	databaseUrl := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		pg["user"], pg["password"], pg["host"], pg["port"], pg["database"], pg["sslmode"])

	m, err := migrate.New(conf.MigrationsPath, databaseUrl)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %v", err)
	}

	log.Info("migrations applied")
	return nil
}

func buildSink(conf config.Settings) *storage.AsyncRepository {
	if len(conf.Sinks) == 0 {
		log.Info("no archive sinks configured, alerts are kept in memory only")
		return nil
	}

	repo := storage.NewRepository(conf.ArchiveMonthStart, conf.ArchiveMonthEnd)
	if err := repo.LoadSinks(conf.Sinks); err != nil {
		log.Fatalf("failed to initialize archive sinks: %v", err)
		return nil
	}

	return storage.NewAsyncRepository(repo, 256, 4)
}

// eventSink avoids handing the adapter a typed nil.
func eventSink(sink *storage.AsyncRepository) ingest.EventSink {
	if sink == nil {
		return nil
	}
	return sink
}

func buildGeocoder(conf config.Settings) *geocode.Client {
	if conf.GeocodeURL == "" && conf.ElevationURL == "" {
		return nil
	}

	var cache geocode.Cache
	if conf.GeocodeCacheHost != "" {
		rdb := redisclient.NewClient(&redisclient.Options{
			Addr: conf.GeocodeCacheHost + ":" + conf.GeocodeCachePort,
		})
		cache = geocode.NewRedisCache(rdb, conf.GetGeocodeCacheTTL())
	}

	return geocode.NewClient(cache, conf.GeocodeURL, conf.ElevationURL, 10*time.Second)
}

// loadFleet seeds the store: the first page lands immediately, the rest
// merge in as the bounded backfill delivers them.
func loadFleet(ctx context.Context, client *history.Client, store *fleet.Store) {
	err := client.FetchFleet(ctx, func(page int, vehicles []types.VehicleRecord) {
		if page == 1 {
			store.LoadBulk(vehicles)
			return
		}
		store.MergeBulk(vehicles)
	})
	if err != nil {
		log.WithField("err", err).Error("initial fleet load failed")
		return
	}
	log.WithField("vehicles", store.Size()).Info("fleet loaded")
}

func scheduleSweep(conf config.Settings, store *fleet.Store) {
	c := cron.New()
	c.AddFunc(conf.SweepSchedule, func() {
		counts := store.AggregateCounts(time.Now())
		log.WithFields(log.Fields{
			"all":       counts.All,
			"running":   counts.Running,
			"stopped":   counts.Stopped,
			"idle":      counts.Idle,
			"overspeed": counts.Overspeed,
			"inactive":  counts.Inactive,
			"no_data":   counts.NoData,
		}).Info("fleet snapshot")
	})
	c.Start()
	log.Info("scheduled periodic fleet snapshot")
}

func runApi(conf config.Settings, store *fleet.Store, historyClient *history.Client, geocoder *geocode.Client, adapter *ingest.Adapter) {
	handler := api.NewHandler(store, historyClient, apiGeocoder(geocoder), adapter.Connected,
		conf.GetInactiveAfter(), conf.GetMarkerInactiveAfter())
	controller := api.NewController(handler)

	log.Infof("starting API on port %d", conf.APIPort)
	if err := controller.Run(conf.APIPort); err != nil {
		log.Fatal(err)
	}
}

// apiGeocoder avoids handing the handler a typed nil.
func apiGeocoder(g *geocode.Client) api.Geocoder {
	if g == nil {
		return nil
	}
	return g
}
