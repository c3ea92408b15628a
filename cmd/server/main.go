package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/sketchwire/backend/internal/api"
	"github.com/sketchwire/backend/internal/room"
	"github.com/sketchwire/backend/internal/store"
	"github.com/sketchwire/backend/internal/sweeper"
	"github.com/sketchwire/backend/internal/ws"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	strokes, err := store.New()
	if err != nil {
		logger.Fatal("failed to initialize stroke store", zap.Error(err))
	}
	defer strokes.Close()

	registry := room.NewRegistry(strokes, logger)

	hub := ws.NewHub(registry, logger)
	go hub.Run()

	sweep := sweeper.New(registry, sweeper.DefaultConfig(), logger)
	sweep.Start()

	handler := api.New(hub, registry, strokes, logger).Router(allowedOrigins())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		// Everything is in-memory; shutting down discards all rooms and
		// stroke logs. Clients reconnect as brand-new joins.
		logger.Info("shutting down")
		sweep.Stop()
		strokes.Close()
		logger.Sync()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("sketchwire server starting",
		zap.String("port", port),
		zap.Strings("endpoints", []string{
			"GET  /ws",
			"POST /api/rooms/create",
			"GET  /api/rooms/validate?code={code}",
			"GET  /api/stats",
			"GET  /healthz",
			"GET  /metrics",
		}))

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func allowedOrigins() []string {
	raw := os.Getenv("SKETCHWIRE_ALLOWED_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}

	origins := strings.Split(raw, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}
