// gsb-update runs the Update Engine on a fixed interval against a
// configured storage backend, so that a co-located process can perform
// lookups purely from local storage.
//
// Grounded on cmd/akamai-purger's daemon shape: flag-selected JSON
// config file, a ticker-driven loop, and signal-triggered graceful
// shutdown, adapted to poll this module's Update Engine instead of
// draining a purge queue.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmhodges/clock"
	"github.com/letsencrypt/borp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"

	"github.com/letsencrypt/gsb"
	"github.com/letsencrypt/gsb/blog"
	"github.com/letsencrypt/gsb/config"
	gsbdb "github.com/letsencrypt/gsb/db"
	"github.com/letsencrypt/gsb/metrics"
	"github.com/letsencrypt/gsb/prefixdb"
	"github.com/letsencrypt/gsb/storage"
	"github.com/letsencrypt/gsb/storage/rediscache"
	"github.com/letsencrypt/gsb/storage/sqlstore"
)

// sqlDriverName is registered against a prefixdb-wrapped MySQL driver so
// every statement this module sends is tagged for slow-query attribution.
const sqlDriverName = "gsb-mysql"

func init() {
	sql.Register(sqlDriverName, prefixdb.New("/* gsb */", mysql.MySQLDriver{}))
}

func main() {
	configFile := flag.String("config", "", "Path to the JSON configuration file")
	force := flag.Bool("force", false, "Bypass the update schedule and fetch immediately")
	once := flag.Bool("once", false, "Run a single update cycle and exit")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "-config is required")
		os.Exit(1)
	}

	var c config.GSBConfig
	if err := readConfigFile(*configFile, &c); err != nil {
		fmt.Fprintf(os.Stderr, "reading config: %s\n", err)
		os.Exit(1)
	}
	failOnError(c.Validate(), "validating config")

	lc, err := blog.New(c.Log, "gsb-update")
	failOnError(err, "constructing logger")
	blog.InitAdapters(lc)
	ctx := lc.Context(context.Background())

	registry := prometheus.NewRegistry()
	stats := metrics.NewPromScope(registry, "gsb_update")
	if c.DebugAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			blog.Error(ctx, "debug server exited", http.ListenAndServe(c.DebugAddr, mux))
		}()
	}

	store, err := buildStore(c.Storage)
	failOnError(err, "constructing storage backend")

	timeout := c.SafeBrowsing.HTTPTimeout.Duration
	if timeout == 0 {
		timeout = gsb.DefaultTimeout
	}

	client, err := gsb.New(gsb.Config{
		Key:           c.SafeBrowsing.APIKey,
		Store:         store,
		Lists:         c.SafeBrowsing.Lists,
		Base:          c.SafeBrowsing.Base,
		HTTPTimeout:   timeout,
		ClientID:      c.SafeBrowsing.ClientID,
		ClientVersion: c.SafeBrowsing.ClientVersion,
		Clk:           clock.Default(),
		Stats:         stats,
	})
	failOnError(err, "constructing safe browsing client")

	if *once {
		runUpdate(ctx, client, *force)
		return
	}

	interval := c.Interval.Duration
	if interval == 0 {
		interval = time.Minute
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runUpdate(ctx, client, *force)
	for {
		select {
		case <-ticker.C:
			runUpdate(ctx, client, *force)
		case <-stop:
			blog.AuditInfo(ctx, "shutting down")
			return
		}
	}
}

func runUpdate(ctx context.Context, client *gsb.Client, force bool) {
	result, err := client.Update(ctx, nil, force)
	if err != nil {
		blog.Error(ctx, "update failed", err, blog.UpdateResult(result.String()))
		return
	}
	blog.AuditInfo(ctx, "update complete", blog.UpdateResult(result.String()))
}

func buildStore(c config.StorageConfig) (storage.Store, error) {
	switch c.Driver {
	case "redis":
		return rediscache.New(c.Redis.NewClient(), clock.Default()), nil
	case "mysql":
		conn, err := sql.Open(sqlDriverName, c.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		dbMap := &borp.DbMap{Db: conn, Dialect: borp.MySQLDialect{Engine: "InnoDB", Encoding: "utf8mb4"}}
		return sqlstore.New(gsbdb.NewWrappedMap(dbMap)), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

func readConfigFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func failOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}
