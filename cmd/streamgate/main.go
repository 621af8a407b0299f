package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"streamgate/internal/config"
	"streamgate/internal/httpapi"
	"streamgate/internal/janitor"
	"streamgate/internal/middleware"
	"streamgate/internal/origin"
	"streamgate/internal/premium"
	"streamgate/internal/store"
	"streamgate/internal/stream"
)

// openStore picks the backend: Redis when REDIS_URL is set, otherwise the
// in-process store (tokens do not survive a restart).
func openStore(ctx context.Context) (store.Store, *store.Memory, string) {
	if url := config.RedisURL(); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			log.Fatalf("[boot] bad REDIS_URL: %v", err)
		}
		rs := store.NewRedis(redis.NewClient(opt), int(config.HistoryLimit()))
		if err := rs.Ping(ctx); err != nil {
			log.Fatalf("[boot] redis unreachable: %v", err)
		}
		log.Printf("[store] redis connected")
		return rs, nil, "redis"
	}
	mem := store.NewMemory(int(config.HistoryLimit()))
	log.Printf("[store] in-memory backend (tokens are lost on restart)")
	return mem, mem, "memory"
}

// openPremium connects the membership database; absent PG_DSN disables it.
func openPremium(ctx context.Context) *premium.Store {
	dsn := config.PGDSN()
	if dsn == "" {
		log.Printf("[store] PG_DSN unset, premium roster disabled")
		return nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("[boot] open postgres: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[boot] postgres unreachable: %v", err)
	}
	ps := premium.NewStore(db)
	if err := ps.EnsureSchema(ctx); err != nil {
		log.Fatalf("[boot] premium schema: %v", err)
	}
	log.Printf("[store] postgres connected")
	return ps
}

func main() {
	_ = godotenv.Load(".env")

	config.Load()
	config.SetupLogging()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	st, mem, backend := openStore(bootCtx)
	prem := openPremium(bootCtx)
	cancel()

	if config.BotToken() == "" {
		log.Printf("[boot] WARN: BOT_TOKEN unset, origin downloads will fail")
	}
	org := origin.NewBotAPI(config.BotAPIURL(), config.BotToken(), config.ChunkSize())

	orch := &stream.Orchestrator{
		Store:           st,
		Origin:          org,
		OriginChunkSize: config.ChunkSize(),
		OutputChunkSize: int(config.OutputChunkSize()),
	}

	mux := http.NewServeMux()
	srv := &httpapi.Server{
		Streams:         orch,
		Store:           st,
		Backend:         backend,
		OriginChunkSize: config.ChunkSize(),
		OutputChunkSize: config.OutputChunkSize(),
		HistoryLimit:    config.HistoryLimit(),
	}
	srv.RegisterRoutes(mux)

	admin := &httpapi.AdminAPI{
		Store:    st,
		Premium:  prem,
		BaseURL:  config.BaseURL(),
		TokenTTL: config.TokenTTL(),
		AdminIDs: config.AdminIDs(),
	}
	admin.RegisterRoutes(mux)

	// not found for everything else (with CORS preflight support)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			middleware.EnableCORS(w)
			return
		}
		http.NotFound(w, r)
	})

	if mem != nil {
		go janitor.Run(rootCtx, mem)
	}

	addr := config.ListenAddr()
	log.Printf("[boot] streamgate listening on %s backend=%s chunk=%dB out=%dB ttl=%s",
		addr, backend, config.ChunkSize(), config.OutputChunkSize(), config.TokenTTL())

	httpSrv := &http.Server{
		Addr:     addr,
		Handler:  middleware.Recover(mux),
		ErrorLog: log.New(log.Writer(), "[http] ", 0),
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-rootCtx.Done()
	log.Printf("[boot] shutdown requested")

	shCtx, cancelSh := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelSh()
	_ = httpSrv.Shutdown(shCtx)

	log.Printf("[boot] shutdown complete")
}
