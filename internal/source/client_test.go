package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{
		Name:       "dvf",
		BaseURL:    baseURL,
		Timeout:    500 * time.Millisecond,
		RetryCount: retries,
		RetryWait:  time.Millisecond,
		PageSize:   50,
	}, logrus.New())
	require.NoError(t, err)
	return client
}

func TestClient_FetchPartition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mutations", r.URL.Path)
		assert.Equal(t, "11", r.URL.Query().Get("region"))
		assert.Equal(t, "2023", r.URL.Query().Get("annee"))
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"count": 2,
			"next": "https://feed/mutations?page=2",
			"results": [
				{"id_mutation": "2023-1", "valeur_fonciere": 520000, "surface_reelle_bati": "52", "code_postal": 75011, "nom_commune": "Paris"},
				{"id_mutation": "2023-2", "valeur_fonciere": "245000,50", "surface_reelle_bati": null, "latitude": "", "images": ["a.jpg"]}
			]
		}`))
	}))
	defer server.Close()

	records, err := newTestClient(t, server.URL, 0).FetchPartition(context.Background(), "11", 2023)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2023-1", records[0].MutationID)
	assert.Equal(t, RawValue("520000"), records[0].Price)
	assert.Equal(t, RawValue("52"), records[0].Surface)
	assert.Equal(t, RawValue("75011"), records[0].PostalCode)

	assert.Equal(t, RawValue("245000,50"), records[1].Price)
	assert.False(t, records[1].Surface.Present())
	assert.False(t, records[1].Latitude.Present())
	assert.Equal(t, StringList{"a.jpg"}, records[1].Images)
	assert.NoError(t, records[0].DecodeErr)
}

func TestClient_MalformedRecordDoesNotFailPartition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"count": 4,
			"results": [
				{"id_mutation": "2023-1", "valeur_fonciere": 520000, "surface_reelle_bati": 52},
				{"id_mutation": "2023-2", "valeur_fonciere": 310000, "images": "one.jpg"},
				{"id_mutation": "2023-3", "valeur_fonciere": {"amount": 1}},
				{"id_mutation": "2023-4", "valeur_fonciere": 180000, "images": [1, 2]}
			]
		}`))
	}))
	defer server.Close()

	records, err := newTestClient(t, server.URL, 0).FetchPartition(context.Background(), "11", 2023)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.NoError(t, records[0].DecodeErr)
	assert.Equal(t, RawValue("520000"), records[0].Price)

	assert.NoError(t, records[1].DecodeErr)
	assert.Equal(t, StringList{"one.jpg"}, records[1].Images)

	assert.Error(t, records[2].DecodeErr)
	assert.Equal(t, "2023-3", records[2].MutationID)

	assert.Error(t, records[3].DecodeErr)
	assert.Equal(t, "2023-4", records[3].MutationID)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 1, "results": [{"id_mutation": "x"}]}`))
	}))
	defer server.Close()

	records, err := newTestClient(t, server.URL, 2).FetchPartition(context.Background(), "84", 2022)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_FetchErrorCarriesContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such region"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).FetchPartition(context.Background(), "93", 2023)
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "93", fetchErr.Partition)
	assert.Equal(t, 2023, fetchErr.Period)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "partition 93 period 2023")
}

func TestClient_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url, 0).FetchPartition(context.Background(), "11", 2023)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Zero(t, fetchErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientOptions{Name: "dvf"}, nil)
	assert.Error(t, err)

	_, err = NewClient(ClientOptions{BaseURL: "http://feed"}, nil)
	assert.Error(t, err)
}

func TestRawValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected RawValue
		wantErr  bool
	}{
		{name: "number", input: `12.5`, expected: "12.5"},
		{name: "string", input: `" 12,5 "`, expected: "12,5"},
		{name: "null", input: `null`, expected: ""},
		{name: "object", input: `{"a":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v RawValue
			err := json.Unmarshal([]byte(tt.input), &v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestStringList_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected StringList
		wantErr  bool
	}{
		{name: "array", input: `["a.jpg","b.jpg"]`, expected: StringList{"a.jpg", "b.jpg"}},
		{name: "single string", input: `" a.jpg "`, expected: StringList{"a.jpg"}},
		{name: "empty string", input: `""`, expected: nil},
		{name: "null", input: `null`, expected: nil},
		{name: "numbers", input: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l StringList
			err := json.Unmarshal([]byte(tt.input), &l)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, l)
		})
	}
}
