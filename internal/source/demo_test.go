package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoClient_Deterministic(t *testing.T) {
	client := NewDemoClient("demo", 40, 7)

	first, err := client.FetchPartition(context.Background(), "11", 2023)
	require.NoError(t, err)
	second, err := client.FetchPartition(context.Background(), "11", 2023)
	require.NoError(t, err)

	assert.Len(t, first, 40)
	assert.Equal(t, first, second)

	other, err := client.FetchPartition(context.Background(), "11", 2022)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].MutationID, other[0].MutationID)
}

func TestDemoClient_IncludesSpuriousRecords(t *testing.T) {
	records, err := NewDemoClient("demo", 40, 1).FetchPartition(context.Background(), "84", 2023)
	require.NoError(t, err)

	var missingBoth, zeroPrice int
	for _, r := range records {
		if !r.Price.Present() && !r.Surface.Present() {
			missingBoth++
		}
		if r.Price == "0" {
			zeroPrice++
		}
	}
	assert.Equal(t, 1, missingBoth)
	assert.Equal(t, 2, zeroPrice)
}

func TestDemoClient_OverseasPartition(t *testing.T) {
	records, err := NewDemoClient("demo", 3, 1).FetchPartition(context.Background(), "04", 2023)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, RawValue("974"), records[0].Department)
	assert.Equal(t, RawValue("97400"), records[0].PostalCode)
}

func TestDemoClient_UnknownPartition(t *testing.T) {
	_, err := NewDemoClient("demo", 3, 1).FetchPartition(context.Background(), "zz", 2023)
	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
}
