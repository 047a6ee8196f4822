package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"kartoteka.org/internal/access"
	"kartoteka.org/internal/authn"
	"kartoteka.org/internal/httpapi"
	"kartoteka.org/internal/obs"
	"kartoteka.org/internal/visit"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres is optional: without a DSN both domains fall back to the
	// in-memory stores, which is enough for local development.
	var db *sql.DB
	if dsn := os.Getenv("KARTOTEKA_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var grantStore access.GrantStore
	var visitStore visit.Store
	if db != nil {
		grantStore = access.NewPGStore(db)
		visitStore = visit.NewPGStore(db)
	} else {
		grantStore = access.NewInMemory()
		visitStore = visit.NewInMemory()
	}

	grants, err := access.NewService(grantStore)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}

	resolverOpts := []access.ResolverOption{
		access.WithTypedKinds(envList("KARTOTEKA_TYPED_KINDS", "incident_report", "feedback")...),
		access.WithMembershipKinds(envList("KARTOTEKA_MEMBERSHIP_KINDS", "criminal", "info_center")...),
	}
	if roles := envList("KARTOTEKA_PRIVILEGED_ROLES"); len(roles) > 0 {
		resolverOpts = append(resolverOpts, access.WithPrivilegedRoles(roles...))
	}
	resolver, err := access.NewResolver(grantStore, authn.ContextOracle{}, resolverOpts...)
	if err != nil {
		log.Fatalf("access resolver: %v", err)
	}

	stream := visit.NewStream()
	recorder, err := visit.NewRecorder(visitStore,
		visit.WithClassifier(visit.UAClassifier{}),
		visit.WithStream(stream),
	)
	if err != nil {
		log.Fatalf("visit recorder: %v", err)
	}

	aggOpts := []visit.AggregatorOption{
		visit.WithWeekStart(weekStartFromEnv()),
	}
	var redisClient *redis.Client
	if addr := os.Getenv("KARTOTEKA_REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		aggOpts = append(aggOpts, visit.WithStatsCache(visit.NewRedisStatsCache(redisClient, 0)))
	}
	aggregator, err := visit.NewAggregator(visitStore, aggOpts...)
	if err != nil {
		log.Fatalf("visit aggregator: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, grants, resolver, recorder, aggregator, stream)

	addr := os.Getenv("KARTOTEKA_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kartoteka-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	api.DrainVisits()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envList(key string, def ...string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func weekStartFromEnv() time.Weekday {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("KARTOTEKA_WEEK_START"))) {
	case "sunday":
		return time.Sunday
	default:
		return time.Monday
	}
}
