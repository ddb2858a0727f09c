package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"schemamodel/internal/db"
	"schemamodel/internal/logger"
	"schemamodel/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		port   int
		webdir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the schema tree to the diagram web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if webdir != "" {
				cfg.Server.Web = webdir
			}

			srv := server.New(cfg)
			defer srv.Close()
			httpSrv := srv.HTTPServer()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdown); err != nil {
					logger.Error("shutdown: %v", err)
				}
			}()

			logger.Info("listening on %s, serving %s", httpSrv.Addr, cfg.Server.Web)
			logger.Info("registered dialects: %v", db.RegisteredDialects())
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "http port (overrides config)")
	cmd.Flags().StringVar(&webdir, "web", "", "web ui directory (overrides config)")
	return cmd
}
