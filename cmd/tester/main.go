package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/internal/jetstream"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

// eventTask is one webhook to publish.
type eventTask struct {
	Subject string
	Event   *model.GatewayEvent
}

// batchTask is a batch of webhooks handed to one pool worker.
type batchTask struct {
	Tasks      []eventTask
	NatsClient jetstream.ClientInterface
}

const defaultBatchSize = 50

// generator builds webhooks for a fixed set of line phones.
type generator struct {
	prefix     string
	lines      []string
	disconnect float64
}

// next returns the i-th webhook: mostly inbound messages, with a
// connection.update close for roughly one in 1/disconnect events.
func (g *generator) next(i int) eventTask {
	line := g.lines[i%len(g.lines)]
	instance := utils.InstanceName(line)

	if g.disconnect > 0 && gofakeit.Float64() < g.disconnect {
		return eventTask{
			Subject: fmt.Sprintf("%s.%s.%s", g.prefix, model.EventConnectionUpdate, instance),
			Event:   model.NewConnectionUpdateEvent(line, "close"),
		}
	}
	return eventTask{
		Subject: fmt.Sprintf("%s.%s.%s", g.prefix, model.EventMessagesUpsert, instance),
		Event:   model.NewMessageUpsertEvent(line, model.FakePhone(), gofakeit.Sentence(8)),
	}
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	prefix := flag.String("prefix", "gateway.events", "Subject prefix of gateway webhooks")
	linesStr := flag.String("lines", "5511900000001,5511900000002", "Comma-separated line phones used as gateway instances")
	disconnect := flag.Float64("disconnect-ratio", 0, "Fraction of events that are connection.update close (bans)")
	rate := flag.Int("rate", 100, "Target messages per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of messages to generate/publish per worker batch")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Gateway webhook load generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes fake Evolution API webhooks to NATS for the NoVendx line router.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
	}
	if *rate <= 0 {
		*rate = 1
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}()

	var lines []string
	for _, l := range strings.Split(*linesStr, ",") {
		if digits := utils.NormalizePhone(l); digits != "" {
			lines = append(lines, digits)
		}
	}
	if len(lines) == 0 {
		logger.Log.Fatal("No line phones provided")
	}

	logger.Log.Info("Starting gateway webhook load generator",
		zap.String("nats_url", *natsURL),
		zap.String("prefix", *prefix),
		zap.Strings("lines", lines),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.Float64("disconnect_ratio", *disconnect),
	)

	natsClient, err := jetstream.NewClient(*natsURL, "novendx-tester")
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		publishBatch(data.(batchTask), &wg)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	gen := &generator{prefix: *prefix, lines: lines, disconnect: *disconnect}
	runLoadLoop(ctx, *rate, *duration, *batchSize, gen, natsClient, pool, &wg)

	logger.Log.Info("Waiting for active publishing tasks to complete...")
	wg.Wait()
	logger.Log.Info("Load generator shutdown complete")
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	utils.SafeGo(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}, nil)
	return server
}

// runLoadLoop generates events at rate and hands them to the pool in batches
// until duration elapses or ctx is done.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, batchSize int, gen *generator, nc jetstream.ClientInterface, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	counter := 0
	batch := make([]eventTask, 0, batchSize)

	submit := func() {
		if len(batch) == 0 {
			return
		}
		wg.Add(len(batch))
		if err := pool.Invoke(batchTask{Tasks: batch, NatsClient: nc}); err != nil {
			logger.Log.Warn("Failed to invoke worker pool for batch", zap.Int("batch_task_count", len(batch)), zap.Error(err))
			wg.Add(-len(batch))
			for _, t := range batch {
				observer.IncLoadgenPublishErrors(t.Subject)
			}
		}
		batch = make([]eventTask, 0, batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			submit()
			return
		case <-durationTimer.C:
			submit()
			return
		case <-ticker.C:
			task := gen.next(counter)
			counter++
			observer.IncLoadgenMessagesAttempted(task.Subject)
			batch = append(batch, task)
			if len(batch) >= batchSize {
				submit()
			}
		}
	}
}

func publishBatch(batch batchTask, wg *sync.WaitGroup) {
	for _, task := range batch.Tasks {
		func(t eventTask) {
			defer wg.Done()

			payload, err := json.Marshal(t.Event)
			if err != nil {
				logger.Log.Error("Failed to marshal webhook", zap.String("subject", t.Subject), zap.Error(err))
				observer.IncLoadgenPublishErrors(t.Subject)
				return
			}

			headers := map[string]string{nats.MsgIdHdr: uuid.NewString()}
			if err := batch.NatsClient.Publish(t.Subject, payload, headers); err != nil {
				logger.Log.Error("Failed to publish webhook", zap.String("subject", t.Subject), zap.Error(err))
				observer.IncLoadgenPublishErrors(t.Subject)
				return
			}
			observer.IncLoadgenMessagesPublished(t.Subject)
		}(task)
	}
}
