package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/codecollab/engine/pkg/api"
	"github.com/codecollab/engine/pkg/config"
	"github.com/codecollab/engine/pkg/room"
	"github.com/codecollab/engine/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	addrVar := flag.String("addr", "", "override the listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.ListenAddr = *addrVar
	}

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := room.NewHub(st.ReadDocUpdates)
	metrics := api.NewMetrics()
	server := api.NewServer(st, hub, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		backupLoop(ctx, cfg, st, hub)
	}()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // buffer of 1 so the notifier is never blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	// Final backup so room documents survive the restart.
	backupRooms(context.Background(), st, hub)
	return nil
}

// backupLoop periodically merges every active room document back into
// the durable update log and prunes stale awareness entries.
func backupLoop(ctx context.Context, cfg config.Config, st *store.Store, hub *room.Hub) {
	t := time.NewTicker(cfg.BackupInterval)
	defer t.Stop()
	pt := time.NewTicker(cfg.AwarenessTimeout)
	defer pt.Stop()
	for {
		select {
		case <-t.C:
			backupRooms(ctx, st, hub)
		case <-pt.C:
			hub.PruneAwareness(cfg.AwarenessTimeout)
		case <-ctx.Done():
			return
		}
	}
}

func backupRooms(ctx context.Context, st *store.Store, hub *room.Hub) {
	hub.Range(func(projectID int64, doc *automerge.Doc) bool {
		if err := st.MergeDocUpdate(ctx, projectID, doc.Save()); err != nil {
			slog.Error("failed to backup room document", "project", projectID, "err", err)
		} else {
			slog.Debug("backed up", "project", projectID, "heads", doc.Heads())
		}
		return true
	})
}
