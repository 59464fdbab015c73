package source

import (
	"context"
	"fmt"
)

// Source fetches the raw records of one partition for one period
type Source interface {
	Name() string
	FetchPartition(ctx context.Context, partition string, period int) ([]RawRecord, error)
}

// FetchError reports a failed partition fetch. It never aborts an ingestion run.
type FetchError struct {
	Partition  string
	Period     int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch partition %s period %d: status %d: %v", e.Partition, e.Period, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch partition %s period %d: %v", e.Partition, e.Period, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
