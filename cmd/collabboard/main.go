package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"collabboard/internal/bus"
	"collabboard/internal/discovery"
	"collabboard/internal/node"
	"collabboard/internal/server"
	"collabboard/internal/store"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openBackends picks the store and bus from the environment. BOARD_DB runs a
// single process against a local bolt file with an in-process bus; otherwise
// Redis carries the bus and, unless DATABASE_URL points at Postgres, the
// board itself.
func openBackends(ctx context.Context, boardID string) (store.Store, bus.Bus) {
	if path := os.Getenv("BOARD_DB"); path != "" {
		st, err := store.NewBolt(path, boardID)
		if err != nil {
			log.Fatalf("Could not open board db: %v", err)
		}
		log.Printf("Single-process mode, board db at %s", path)
		return st, bus.NewMemory()
	}

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	log.Println("Connected to Redis successfully.")
	b := bus.NewRedis(rdb, boardID)

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		st, err := store.NewPostgres(ctx, pool, boardID)
		if err != nil {
			log.Fatalf("Unable to prepare database: %v", err)
		}
		log.Println("Connected to PostgreSQL successfully.")
		return st, b
	}
	return store.NewRedis(rdb, boardID), b
}

func main() {
	port := getenv("PORT", "8080")
	boardID := getenv("BOARD_ID", "main-board")
	staticDir := getenv("STATIC_DIR", "./ui")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, b := openBackends(ctx, boardID)
	defer st.Close()
	defer b.Close()

	n := node.New(st, b)
	go func() {
		if err := n.Run(ctx); err != nil {
			log.Printf("node stopped: %v", err)
		}
	}()

	if os.Getenv("MDNS_ANNOUNCE") == "1" {
		p, _ := strconv.Atoi(port)
		stop, err := discovery.Announce("collabboard-"+n.ID[:8], p)
		if err != nil {
			log.Printf("mDNS announce failed: %v", err)
		} else {
			defer stop()
			log.Printf("mDNS service registered on port %s", port)
		}
	}

	srv := &http.Server{Addr: ":" + port, Handler: server.New(n, staticDir)}
	go func() {
		<-ctx.Done()
		shutCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("collabboard node %s serving board %q on :%s", n.ID, boardID, port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}
