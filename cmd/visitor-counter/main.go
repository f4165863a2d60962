package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tckz/visitor-counter/internal/counter"
	"github.com/tckz/visitor-counter/internal/log"
	"github.com/tckz/visitor-counter/internal/visitor"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

var (
	optLogEncoding     = flag.String("log-encoding", "json", "json|console")
	optLogOutput       = flag.String("log-output", "stderr", "Comma separated log outputs, stderr|stdout|/path/to/file")
	optLogLevel        = flag.String("log-level", "info", "info|warn|error")
	optListen          = flag.String("listen", "", "addr:port to listen (env LISTEN_ADDR, default :5000)")
	optStore           = flag.String("store", "", "redis|memory|datastore (env COUNTER_STORE, default redis)")
	optRedisHost       = flag.String("redis-host", "", "host of redis (env REDIS_HOST, default redis)")
	optRedisPort       = flag.String("redis-port", "", "port of redis (env REDIS_PORT, default 6379)")
	optRedisDB         = flag.String("redis-db", "", "logical db of redis (env REDIS_DB, default 0)")
	optCounterKey      = flag.String("counter-key", "", "key of the counter (env COUNTER_KEY, default visitor)")
	optShutdownTimeout = flag.Duration("shutdown-timeout", 10*time.Second, "Time to wait for in-flight requests on shutdown")
)

func init() {
	godotenv.Load()

	flag.Parse()

	logger = log.Must(log.NewLogger(
		log.WithLogLevel(*optLogLevel),
		log.WithEncoding(*optLogEncoding),
		log.WithOutputPaths(strings.Split(*optLogOutput, ",")...),
	)).Sugar().With(zap.String("app", myName))
}

// fallback returns the flag value, then the env value, then def.
func fallback(v *string, env, def string) string {
	if *v != "" {
		return *v
	}
	if e := os.Getenv(env); e != "" {
		return e
	}
	return def
}

func main() {
	logger.Infof("ver=%s, args=%s", version, os.Args)
	defer logger.Infof("done")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		logger.Fatalf("*** run: %v", err)
	}
}

func run(ctx context.Context) error {
	c, closeStore, err := newCounter(ctx, fallback(optStore, "COUNTER_STORE", "redis"))
	if err != nil {
		return err
	}
	defer closeStore()

	h := visitor.NewHandler(c, logger)
	srv := &http.Server{
		Addr:              fallback(optListen, "LISTEN_ADDR", ":5000"),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Infof("listen=%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("srv.ListenAndServe: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Infof("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), *optShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("srv.Shutdown: %w", err)
		}
		return nil
	})

	return eg.Wait()
}

func newCounter(ctx context.Context, store string) (counter.Counter, func(), error) {
	key := fallback(optCounterKey, "COUNTER_KEY", counter.DefaultKey)

	switch store {
	case "memory":
		logger.Warnf("count is kept in process memory and is lost on exit")
		return counter.NewLocalCounter(key), func() {}, nil

	case "redis":
		host := fallback(optRedisHost, "REDIS_HOST", "redis")
		port := fallback(optRedisPort, "REDIS_PORT", "6379")
		db, err := strconv.Atoi(fallback(optRedisDB, "REDIS_DB", "0"))
		if err != nil {
			return nil, nil, fmt.Errorf("redis db: %w", err)
		}

		cl := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{net.JoinHostPort(host, port)},
			DB:           db,
			DialTimeout:  time.Second * 2,
			ReadTimeout:  time.Second * 2,
			WriteTimeout: time.Second * 2,
			PoolSize:     200,
			PoolTimeout:  time.Second * 5,
			MaxRetries:   -1,
		})

		// The index page works without redis, so a failed ping is not fatal.
		{
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := cl.Ping(ctx).Err(); err != nil {
				logger.Warnf("Ping: addr=%s:%s db=%d: %v", host, port, db, err)
			}
		}

		logger.Infof("store=redis addr=%s:%s db=%d key=%s", host, port, db, key)
		return counter.NewRedisCounter(cl, key), func() { cl.Close() }, nil

	case "datastore":
		cl, err := datastore.NewClient(ctx, os.Getenv("PROJECT_ID"))
		if err != nil {
			return nil, nil, fmt.Errorf("datastore.NewClient: %w", err)
		}

		logger.Infof("store=datastore key=%s", key)
		return counter.NewDatastoreCounter(cl, os.Getenv("DATASTORE_NAMESPACE"), key), func() { cl.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store: %s", store)
	}
}
