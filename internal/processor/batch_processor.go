package processor

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"immostats/internal/database"
	"immostats/internal/models"
)

// Store is the persistence port the processor writes through
type Store interface {
	UpsertProperty(ctx context.Context, property *models.Property) error
}

// Result counts the outcome of one upsert pass
type Result struct {
	Saved     int
	Failed    int
	Conflicts int
}

// BatchProcessor upserts normalized properties keyed by external id.
// A failing entity is counted and skipped, it never aborts the pass.
type BatchProcessor struct {
	store     Store
	batchSize int
	logger    *logrus.Logger
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(store Store, batchSize int, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BatchProcessor{
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Process runs the bulk upsert pass over all properties
func (p *BatchProcessor) Process(ctx context.Context, properties []*models.Property) Result {
	var result Result

	for start := 0; start < len(properties); start += p.batchSize {
		end := start + p.batchSize
		if end > len(properties) {
			end = len(properties)
		}
		batch := p.processBatch(ctx, properties[start:end])
		result.Saved += batch.Saved
		result.Failed += batch.Failed
		result.Conflicts += batch.Conflicts
	}

	return result
}

// processBatch upserts one batch entity by entity so one bad row cannot
// roll back its neighbours
func (p *BatchProcessor) processBatch(ctx context.Context, batch []*models.Property) Result {
	var result Result

	for _, property := range batch {
		if err := p.store.UpsertProperty(ctx, property); err != nil {
			result.Failed++
			if errors.Is(err, database.ErrPersistenceConflict) {
				result.Conflicts++
			}
			p.logger.WithFields(logrus.Fields{
				"external_id": property.ExternalID,
				"error":       err,
			}).Warn("Failed to upsert property")
			continue
		}
		result.Saved++
	}

	p.logger.WithFields(logrus.Fields{
		"batch_size": len(batch),
		"saved":      result.Saved,
		"failed":     result.Failed,
	}).Debug("Processed property batch")

	return result
}
