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
	"go.uber.org/zap"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/service"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compose HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wasm, err := readWASM()
			if err != nil {
				return err
			}
			resolver, closeResolver, err := openResolver()
			if err != nil {
				return err
			}
			defer closeResolver()

			r, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer r.Close(context.Background())

			compiled, err := composer.CompileComposer(ctx, r, wasm)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr: cfg.Server.Listen,
				Handler: service.New(r, compiled, service.Options{
					Resolver:     resolver,
					Logger:       logger.Named("http"),
					MaxBodyBytes: cfg.Server.MaxBodyBytes,
				}),
				ReadTimeout:  cfg.GetReadTimeout(),
				WriteTimeout: cfg.GetWriteTimeout(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen")
	return cmd
}
