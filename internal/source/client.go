package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultPageSize  = 500
	defaultUserAgent = "immostats-ingest/1.0"
	mutationsPath    = "/mutations"
)

type ClientOptions struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	PageSize   int
	UserAgent  string
}

// Client fetches partition pages from the structured transaction feed
type Client struct {
	name     string
	pageSize int
	http     *resty.Client
	logger   *logrus.Logger
}

func NewClient(opts ClientOptions, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("source base URL is required")
	}
	if opts.Name == "" {
		return nil, errors.New("source name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait * 8).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		name:     opts.Name,
		pageSize: pageSize,
		http:     httpClient,
		logger:   logger,
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

// FetchPartition performs one page request for the partition and period.
// Any transport failure or non-2xx answer (after retries) is a *FetchError.
func (c *Client) FetchPartition(ctx context.Context, partition string, period int) ([]RawRecord, error) {
	var page Page
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"region":    partition,
			"annee":     strconv.Itoa(period),
			"page_size": strconv.Itoa(c.pageSize),
		}).
		ForceContentType("application/json").
		SetResult(&page).
		Get(mutationsPath)
	if err != nil {
		return nil, &FetchError{Partition: partition, Period: period, Err: err}
	}
	if resp.IsError() {
		return nil, &FetchError{
			Partition:  partition,
			Period:     period,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected response: %s", truncate(resp.String(), 200)),
		}
	}

	records := DecodeRecords(page.Results)
	c.logger.WithFields(logrus.Fields{
		"partition": partition,
		"period":    period,
		"records":   len(records),
		"count":     page.Count,
		"duration":  resp.Time().String(),
	}).Debug("Fetched partition page")

	return records, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
