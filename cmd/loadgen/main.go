package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"costwatch/internal/adapters/config"
	"costwatch/internal/adapters/kafka"
	"costwatch/internal/consumers"
	"costwatch/pkg/logger"
)

// scenario describes a synthetic cost stream: a steady baseline followed by
// an optional spike on the last event of each unit
type scenario struct {
	Owner      string
	Units      int
	PerUnit    int
	CostType   string
	Baseline   decimal.Decimal
	Jitter     decimal.Decimal // added to every other baseline event
	SpikeRatio decimal.Decimal // 0 disables the spike
	Model      string
	Operation  string
}

func main() {
	owner := flag.String("owner", "demo-owner", "Owner ID stamped on every event")
	units := flag.Int("units", 1, "Number of work units")
	perUnit := flag.Int("events", 6, "Events per work unit (last one spikes)")
	costType := flag.String("type", "compute", "Cost type")
	baseline := flag.String("baseline", "0.019", "Baseline amount in USD")
	spike := flag.String("spike", "3.7", "Spike multiplier for the last event, 0 to disable")
	model := flag.String("model", "gpt-4o", "Model metadata value")
	interval := flag.Duration("interval", 200*time.Millisecond, "Delay between events")
	dryRun := flag.Bool("dry-run", false, "Log events without publishing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()

	sc := scenario{
		Owner:      *owner,
		Units:      *units,
		PerUnit:    *perUnit,
		CostType:   *costType,
		Baseline:   decimal.RequireFromString(*baseline),
		Jitter:     decimal.RequireFromString("0.001"),
		SpikeRatio: decimal.RequireFromString(*spike),
		Model:      *model,
		Operation:  "loadgen",
	}
	events := sc.build(time.Now().UTC())

	log.Infow("Starting load generator",
		"owner", sc.Owner,
		"events", len(events),
		"topic", cfg.Kafka.Topic,
		"dry_run", *dryRun,
	)

	if *dryRun {
		for _, e := range events {
			log.Infow("event", "unit", e.WorkUnitID, "amount", e.Amount.String(), "occurred_at", e.OccurredAt)
		}
		log.Info("✅ Dry-run mode: events generated")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorw("Failed to close producer", "error", err)
		}
	}()

	for i, e := range events {
		if err := producer.Publish(ctx, cfg.Kafka.Topic, e.WorkUnitID, e); err != nil {
			log.Errorw("Failed to publish event", "step", i+1, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			log.Warnw("Interrupted", "published", i+1)
			return
		case <-time.After(*interval):
		}
	}

	log.Infow("✅ All events published", "count", len(events))
}

// build lays the events out in time order, one minute apart per unit
func (s scenario) build(start time.Time) []consumers.CostEventMessage {
	events := make([]consumers.CostEventMessage, 0, s.Units*s.PerUnit)

	for u := 0; u < s.Units; u++ {
		unit := fmt.Sprintf("%s-unit-%d", s.Owner, u+1)
		for i := 0; i < s.PerUnit; i++ {
			amount := s.Baseline
			if i%2 == 1 {
				amount = amount.Add(s.Jitter)
			}
			if i == s.PerUnit-1 && s.SpikeRatio.IsPositive() {
				amount = s.Baseline.Mul(s.SpikeRatio).Round(6)
			}

			events = append(events, consumers.CostEventMessage{
				ID:         uuid.NewString(),
				WorkUnitID: unit,
				OwnerID:    s.Owner,
				CostType:   s.CostType,
				Amount:     amount,
				Operation:  s.Operation,
				OccurredAt: start.Add(time.Duration(u*s.PerUnit+i) * time.Minute),
				Metadata: map[string]string{
					"model":      s.Model,
					"request_id": uuid.NewString(),
				},
			})
		}
	}
	return events
}
