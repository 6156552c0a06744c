package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Loads the dataset and serves the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var addr string

func init() {
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = addr
	}
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	manager, err := buildManager(cfg)
	if err != nil {
		return err
	}

	// Loading happens before the listener opens, and never fails.
	start := time.Now()
	dataset := manager.Load(cmd.Context())
	log.Printf("[LOAD] done rows=%d aux_bytes=%d elapsed=%s",
		dataset.Table.Len(), len(dataset.Aux), time.Since(start).Round(time.Millisecond))

	svc := trips.NewService(dataset.Table)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(svc, cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout(),
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] listening addr=%s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-quit:
	}

	log.Println("[HTTP] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	log.Println("[HTTP] stopped")
	return nil
}
