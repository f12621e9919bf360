package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loupe-dev/loupe/internal/mcp"
	"github.com/loupe-dev/loupe/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve [repo-root...]",
	Short: "Serve MCP over stdio with a live-updating index",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, loadedConfig, args)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	w, err := watcher.New(a.scanner, watcher.Options{
		DebounceWindow: a.cfg.DebounceWindow(),
		QueueSize:      a.cfg.Watch.QueueSize,
		ExtraPatterns:  a.cfg.IgnorePatterns,
		MaxFileBytes:   a.cfg.MaxFileBytes,
	})
	if err != nil {
		return err
	}
	a.watcher = w
	w.Start(ctx)

	runnerDone := make(chan struct{})
	go func() {
		a.runner.Run(ctx, w.Events())
		close(runnerDone)
	}()

	// Reconciliation and the initial walk run in the background; the MCP
	// server answers immediately (degraded until the index fills).
	go func() {
		reconcileEvents := make(chan watcher.FileEvent, 256)
		go func() {
			for ev := range reconcileEvents {
				if err := a.coord.HandleEvent(ctx, ev); err != nil {
					slog.Warn("reindex_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
				}
			}
		}()
		if err := a.reconcile(ctx, reconcileEvents); err != nil {
			slog.Warn("reconcile_failed", slog.String("error", err.Error()))
		}
		close(reconcileEvents)

		for _, id := range a.coord.Repos() {
			root, _ := a.coord.RepoRoot(id)
			if err := w.Attach(ctx, id, root); err != nil {
				slog.Error("attach_failed", slog.String("root", root), slog.String("error", err.Error()))
			}
		}
	}()

	server, err := mcp.NewServer(a.engine, a.coord, a.embedder, a.metrics)
	if err != nil {
		return err
	}

	serveErr := server.Serve(ctx)

	// Drain and persist before exit.
	stop()
	select {
	case <-runnerDone:
	case <-time.After(10 * time.Second):
	}
	if err := a.save(); err != nil {
		slog.Warn("vector_save_failed", slog.String("error", err.Error()))
	}
	return serveErr
}
