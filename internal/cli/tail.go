package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/causez"
)

var (
	tailGroup  string
	tailTaskID string
)

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailGroup, "group", "", "Kafka consumer group (empty reads without committing)")
	tailCmd.Flags().StringVar(&tailTaskID, "task", "", "Only print events of this task id (16 hex digits)")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events published on the configured transport",
	Long:  "Subscribes to the Kafka topic or Redis channel from the config and prints one JSON event per line until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	received := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Metrics.Namespace,
		Name:      "tail_events_received_total",
		Help:      "Total events received from the transport.",
	})
	reg := prometheus.NewRegistry()
	if err := reg.Register(received); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	src, err := newSource(cfg.Transport, tailGroup, counting(received, printer(out, tailTaskID)), logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.Go(func() error {
		defer cancel()
		return src.Run(ctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Port, reg)
		})
	}

	logger.Info("tailing events", zap.String("transport", cfg.Transport.Kind))
	return g.Wait()
}

// counting increments c for every event before handing it to next.
func counting(c prometheus.Counter, next func(context.Context, *causez.Event) error) func(context.Context, *causez.Event) error {
	return func(ctx context.Context, e *causez.Event) error {
		c.Inc()
		return next(ctx, e)
	}
}

// printer writes each event as a JSON line, optionally filtered by task.
func printer(w io.Writer, taskID string) func(context.Context, *causez.Event) error {
	enc := json.NewEncoder(w)
	return func(_ context.Context, e *causez.Event) error {
		if taskID != "" && e.TaskIDString() != taskID {
			return nil
		}
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
		return nil
	}
}
