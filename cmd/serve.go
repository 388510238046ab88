package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/crewchat/internal/frontend"
	"github.com/zjrosen/crewchat/internal/log"
)

// shutdownGrace bounds how long in-flight requests and pending builds get
// after a signal.
const shutdownGrace = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the turn, transcript, workflow and change feed endpoints.

POST /api/turns answers once the requirements persona has replied. Build
replies and workflow progress arrive on GET /api/conversations/{id}/events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.ErrorErr(log.CatCoord, "Shutdown incomplete", err)
		}
	}()

	store := a.db.Store()
	handler := frontend.NewHandler(a.coordinator, store, a.db.Broker(), cfg.Server.AllowedOrigin)
	srv := frontend.NewServer(frontend.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(log.CatHTTP, "Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		select {
		case <-srv.Ready():
			cmd.Printf("crewchat listening on http://%s\n", srv.Addr())
		case <-gctx.Done():
		}
		return nil
	})
	return g.Wait()
}
