package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/causez"
)

// ErrInvalidWorkers is returned for a negative --workers value.
var ErrInvalidWorkers = errors.New("workers must not be negative")

var (
	emitAgent   string
	emitWorkers int
	emitTenant  int32
	emitHold    time.Duration
)

func init() {
	rootCmd.AddCommand(emitCmd)
	emitCmd.Flags().StringVar(&emitAgent, "agent", "causez-cli", "Agent name for emitted events")
	emitCmd.Flags().IntVar(&emitWorkers, "workers", 2, "Number of concurrent child spans")
	emitCmd.Flags().Int32Var(&emitTenant, "tenant", -1, "Tenant class (negative for none)")
	emitCmd.Flags().DurationVar(&emitHold, "hold", 0, "Keep the metrics endpoint up this long after flushing")
}

var emitCmd = &cobra.Command{
	Use:   "emit <description>",
	Short: "Emit a sample trace through the configured transport",
	Long:  "Starts a trace, fans out to concurrent child spans, joins their causal histories and reports the result. Useful to check a transport end to end.",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmit,
}

func runEmit(cmd *cobra.Command, args []string) error {
	if emitWorkers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, emitWorkers)
	}

	transport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		return err
	}

	metrics := causez.NewMetrics(cfg.Metrics.Namespace)
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	reporterOpts := []causez.ReporterOption{
		causez.WithMetrics(metrics),
		causez.WithQueueLimit(cfg.Queue.Limit),
		causez.WithRetry(cfg.Queue.RetryPolicy()),
	}
	tracer := causez.New(transport,
		causez.WithLogger(logger),
		causez.WithPolicy(cfg.Reporting.Policy()),
		causez.WithReporterOptions(reporterOpts...),
	)

	g, gctx := errgroup.WithContext(cmd.Context())
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(serveCtx, cfg.Metrics.Port, reg)
		})
	}

	ctx, cell := causez.NewContext(cmd.Context(), "main")
	if emitTenant >= 0 {
		cell.SetTenantClass(emitTenant)
	}

	task := emitTrace(ctx, tracer, emitAgent, args[0], emitWorkers)

	if err := tracer.Close(); err != nil {
		stopServing()
		_ = g.Wait()
		return fmt.Errorf("flushing events: %w", err)
	}
	r := tracer.Reporter()
	logger.Info("trace emitted",
		zap.String("task_id", task),
		zap.Uint64("forwarded", r.Forwarded()),
		zap.Uint64("failed", r.Failed()),
		zap.Uint64("dropped", r.Dropped()),
	)
	fmt.Fprintln(cmd.OutOrStdout(), task)

	if cfg.Metrics.Enabled && emitHold > 0 {
		select {
		case <-time.After(emitHold):
		case <-serveCtx.Done():
		}
	}
	stopServing()
	return g.Wait()
}

// emitTrace reports a root span with workers concurrent child spans whose
// histories are joined back before the root is stopped. It returns the task
// id in hex, or an empty string if nothing was reported.
func emitTrace(ctx context.Context, tracer *causez.Tracer, agent, description string, workers int) string {
	spans := tracer.Spans()
	log := tracer.Logger(agent)

	root, ok := spans.StartTrace(ctx, agent, description)
	if !ok {
		return ""
	}
	cell := causez.CellFrom(ctx)
	log.Log(ctx, "fan out", workers)

	results := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		work := spans.Wrap(ctx, fmt.Sprintf("worker-%d", i), func(ctx context.Context) {
			log.Log(ctx, "working", i)
			results[i] = causez.CellFrom(ctx).Bytes()
		})
		go func() {
			defer wg.Done()
			work(context.Background())
		}()
	}
	wg.Wait()

	for _, r := range results {
		cell.JoinBytes(r)
	}
	log.Log(ctx, "joined", workers)
	spans.Stop(ctx, root)

	id, _ := cell.TaskID()
	return fmt.Sprintf("%016x", uint64(id))
}
