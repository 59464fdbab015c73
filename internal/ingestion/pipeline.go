package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"immostats/internal/metrics"
	"immostats/internal/models"
	"immostats/internal/normalizer"
	"immostats/internal/processor"
	"immostats/internal/source"
)

// Options selects what one run fetches
type Options struct {
	Periods        []int
	Partitions     []string
	PartitionDelay time.Duration
	BatchSize      int
}

// Pipeline drives the source and the normalizer over every
// (period, partition) pair, then upserts the collected entities in one pass.
type Pipeline struct {
	source     source.Source
	normalizer *normalizer.Normalizer
	processor  *processor.BatchProcessor
	periods    []int
	partitions []string
	delay      time.Duration
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

func NewPipeline(src source.Source, store processor.Store, opts Options, m *metrics.Metrics, logger *logrus.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if src == nil {
		return nil, errors.New("source is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if len(opts.Periods) == 0 || len(opts.Partitions) == 0 {
		return nil, errors.New("at least one period and one partition are required")
	}
	if opts.PartitionDelay < 0 {
		return nil, fmt.Errorf("invalid partition delay %s", opts.PartitionDelay)
	}

	return &Pipeline{
		source:     src,
		normalizer: normalizer.New(src.Name()),
		processor:  processor.NewBatchProcessor(store, opts.BatchSize, logger),
		periods:    append([]int(nil), opts.Periods...),
		partitions: append([]string(nil), opts.Partitions...),
		delay:      opts.PartitionDelay,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run performs one full ingestion cycle. Partition failures and rejected
// records are counted, never fatal. The error is only set when ctx ends the
// run early, in which case the summary covers the work done so far.
func (p *Pipeline) Run(ctx context.Context) (*models.IngestionSummary, error) {
	startedAt := p.now().UTC()
	summary := &models.IngestionSummary{StartedAt: startedAt}

	pace := newPacer(p.delay)

	var (
		entities []*models.Property
		rawCount int
		runErr   error
	)
	rejects := make(map[string]int)

fetch:
	for _, period := range p.periods {
		for _, partition := range p.partitions {
			if err := pace.wait(ctx); err != nil {
				runErr = fmt.Errorf("ingestion interrupted: %w", err)
				break fetch
			}

			records, err := p.source.FetchPartition(ctx, partition, period)
			pace.done(time.Now())
			if err != nil {
				summary.FailedPartitions++
				p.metrics.IncPartitionError()
				p.logger.WithFields(logrus.Fields{
					"partition": partition,
					"period":    period,
					"error":     err,
				}).Error("Failed to fetch partition")
				continue
			}
			rawCount += len(records)

			accepted := 0
			for _, raw := range records {
				property, err := p.normalizer.Normalize(raw, startedAt)
				if err != nil {
					var rejectErr *normalizer.RejectError
					if errors.As(err, &rejectErr) {
						rejects[rejectErr.Reason]++
						p.metrics.IncReject(rejectErr.Reason)
					}
					summary.Rejected++
					continue
				}
				entities = append(entities, property)
				accepted++
			}

			p.logger.WithFields(logrus.Fields{
				"partition": partition,
				"period":    period,
				"records":   len(records),
				"accepted":  accepted,
			}).Debug("Fetched partition")
		}
	}

	summary.Fetched = len(entities)
	p.metrics.AddRecords(metrics.StageFetched, rawCount)
	p.metrics.AddRecords(metrics.StageNormalized, len(entities))

	if runErr == nil {
		result := p.processor.Process(ctx, entities)
		summary.Saved = result.Saved
		summary.Failed = result.Failed
		p.metrics.AddRecords(metrics.StageSaved, result.Saved)
		p.metrics.AddRecords(metrics.StageFailed, result.Failed)
	}

	summary.FinishedAt = p.now().UTC()
	duration := summary.FinishedAt.Sub(startedAt)
	p.metrics.ObserveRun(p.outcome(summary, runErr), duration)

	fields := logrus.Fields{
		"fetched":           summary.Fetched,
		"saved":             summary.Saved,
		"failed":            summary.Failed,
		"rejected":          summary.Rejected,
		"failed_partitions": summary.FailedPartitions,
		"duration_ms":       duration.Milliseconds(),
	}
	if len(rejects) > 0 {
		fields["reject_reasons"] = rejects
	}
	entry := p.logger.WithFields(fields)
	if runErr != nil {
		entry.WithError(runErr).Warn("Ingestion run interrupted")
		return summary, runErr
	}
	entry.Info("Ingestion run completed")

	return summary, nil
}

func (p *Pipeline) outcome(summary *models.IngestionSummary, runErr error) string {
	total := len(p.periods) * len(p.partitions)
	switch {
	case runErr != nil, summary.FailedPartitions == total:
		return metrics.OutcomeFailed
	case summary.FailedPartitions > 0, summary.Failed > 0:
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeSuccess
	}
}

// pacer holds the next source call back until delay has elapsed since the
// previous call returned, however long that call took.
type pacer struct {
	delay   time.Duration
	limiter *rate.Limiter
}

func newPacer(delay time.Duration) *pacer {
	return &pacer{delay: delay}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// done drains a fresh single-token limiter at the call's end time, so the
// next token is only available delay later.
func (p *pacer) done(at time.Time) {
	if p.delay <= 0 {
		return
	}
	p.limiter = rate.NewLimiter(rate.Every(p.delay), 1)
	p.limiter.AllowN(at, 1)
}
