package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Toepfer-Lab/mmon-gcm/internal/config"
	"github.com/Toepfer-Lab/mmon-gcm/internal/monitoring"
	"github.com/Toepfer-Lab/mmon-gcm/internal/report"
	"github.com/Toepfer-Lab/mmon-gcm/internal/store"
)

func newDebugMux(st *store.Store) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := st.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	report.AttachRoutes(mux, st)
	mux.Handle("/", http.RedirectHandler("/debug/", http.StatusFound))
	return mux, nil
}

func (a *app) newDebugServerCmd() *cobra.Command {
	var dbPath, listen string
	cmd := &cobra.Command{
		Use:   "debug-server",
		Short: "Serve the debug pages and SQL console over the run database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			mux, err := newDebugMux(st)
			if err != nil {
				return err
			}
			server := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				monitoring.Logf("[debug] listening on %s", listen)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			ctx := cmd.Context()
			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("failed to start server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			monitoring.Logf("[debug] shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("[debug] HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					monitoring.Logf("[debug] HTTP server force close error: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDatabase, "Run database")
	cmd.Flags().StringVar(&listen, "listen", ":8090", "Listen address")
	return cmd
}
