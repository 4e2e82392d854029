package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/metrics"
	"github.com/KaramelBytes/equiplens-cli/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		engine, err := newEngine()
		if err != nil {
			return err
		}

		var m *metrics.Metrics
		if c.MetricsEnabled {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if m, err = metrics.New(reg); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
		}
		var annotate func(context.Context, equipment.Summary) string
		if c.InsightsProvider != "" {
			annotate = newGenerator(c).Annotate
		}

		if !debug {
			gin.SetMode(gin.ReleaseMode)
		}
		srv, err := server.New(server.Options{
			Datasets:       st,
			Engine:         engine,
			Annotate:       annotate,
			Metrics:        m,
			Logger:         logger,
			MaxUploadBytes: c.Limits().MaxBytes,
		})
		if err != nil {
			return err
		}

		addr := c.ServerAddr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Serving %s on %s\n", st.Root(), addr)
		return srv.Run(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server_addr)")
}
