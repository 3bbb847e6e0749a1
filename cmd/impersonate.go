package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"cloudcutter/internal/clock"
	"cloudcutter/internal/config"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/orchestrator"
)

func newImpersonateCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "impersonate",
		Short: "Run the virtual Tuya cloud (DHCP, DNS, MQTT, HTTP/TLS, gateway)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			log := logging.Default().WithComponent("cmd")

			if err := clock.EnsureSaneTime(); err != nil {
				log.Warn("system clock looks wrong and no anchor was available; self-signed certs may mint with a bogus validity window", "err", err)
			} else {
				defer func() {
					if err := clock.SaveAnchor(); err != nil {
						log.Warn("failed to save clock anchor", "err", err)
					}
				}()
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			bus := events.NewBus()
			// wifi/network adapters are left nil: bringing the pairing AP
			// up/down is expected to be handled externally (hostapd, a
			// provisioned interface, ...); Start/Stop skip that step when
			// they're nil.
			orch, err := orchestrator.New(cfg, bus, nil, nil)
			if err != nil {
				return fmt.Errorf("build orchestrator: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("start services: %w", err)
			}

			var metricsSrv *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("GET /metrics", promhttp.Handler())
				metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error("metrics server failed", "err", err)
					}
				}()
				log.Info("metrics listening", "addr", metricsAddr)
			}

			for _, st := range orch.Statuses() {
				log.Info("service started", "name", st.Name)
			}
			log.Info("impersonation server running", "config", configFile)

			<-ctx.Done()
			log.Info("shutting down")

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(stopCtx)
			}
			if err := orch.Stop(stopCtx); err != nil {
				return fmt.Errorf("stop services: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	return cmd
}
