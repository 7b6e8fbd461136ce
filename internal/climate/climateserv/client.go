// Package climateserv implements the climate job client against the
// ClimateSERV asynchronous data request API.
package climateserv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/climate-crop-forecast/internal/climate"
	"github.com/i474232898/climate-crop-forecast/internal/geo"
	"github.com/i474232898/climate-crop-forecast/internal/metrics"
)

// DefaultBaseURL is the public ClimateSERV CHIRPS endpoint.
const DefaultBaseURL = "https://climateserv.servirglobal.net/chirps/"

const (
	endpointSubmit   = "submitDataRequest/"
	endpointProgress = "getDataRequestProgress/"
	endpointData     = "getDataFromRequest/"

	// Daily values aggregated with the provider's "average over area" operation.
	intervalTypeDaily = "0"
	operationAverage  = "5"

	maxResponseBytes = 32 << 20
)

var (
	errMalformed = errors.New("malformed response")
	errJobFailed = errors.New("provider reported job failure")
)

// Config holds the client settings.
type Config struct {
	BaseURL string
	// PollInterval is the pause between progress queries.
	PollInterval time.Duration
	// PollMaxWait bounds AwaitCompletion. Zero disables the bound.
	PollMaxWait time.Duration
	Backoff     BackoffConfig
	// BreakerFailureThreshold is the number of consecutive provider failures
	// that opens the circuit.
	BreakerFailureThreshold uint32
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:                 DefaultBaseURL,
		PollInterval:            time.Second,
		PollMaxWait:             5 * time.Minute,
		BreakerFailureThreshold: 20,
	}
}

// Client talks to ClimateSERV. It implements climate.JobClient.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	pollMaxWait  time.Duration
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
	logger       *zap.Logger
	metrics      *metrics.Collector
}

var _ climate.JobClient = (*Client)(nil)

// NewClient creates a Client sharing httpClient for all calls.
func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger, m *metrics.Collector) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/") + "/",
		pollInterval: cfg.PollInterval,
		pollMaxWait:  cfg.PollMaxWait,
		httpCfg: HTTPClientConfig{
			Client:  httpClient,
			Backoff: cfg.Backoff,
		},
		circuit: newBreaker("climateserv", cfg.BreakerFailureThreshold),
		logger:  logger,
		metrics: m,
	}
}

// Submit starts a data request for one dataset over the window and geometry.
func (c *Client) Submit(ctx context.Context, id climate.DatasetID, window climate.DateRange, g geo.Geometry) (climate.JobID, error) {
	fail := func(status int, err error) (climate.JobID, error) {
		return "", &climate.JobError{Stage: climate.StageSubmit, DatasetID: id, StatusCode: status, Err: err}
	}

	geometry, err := geo.Encode(g)
	if err != nil {
		return fail(0, err)
	}

	values := url.Values{}
	values.Set("datatype", strconv.Itoa(int(id)))
	values.Set("begintime", window.BeginParam())
	values.Set("endtime", window.EndParam())
	values.Set("intervaltype", intervalTypeDaily)
	values.Set("operationtype", operationAverage)
	values.Set("geometry", string(geometry))

	var payload []any
	if status, err := c.getJSON(ctx, endpointSubmit, values, &payload); err != nil {
		return fail(status, err)
	}
	if len(payload) == 0 {
		return fail(0, fmt.Errorf("%w: empty job id list", errMalformed))
	}

	var job string
	switch v := payload[0].(type) {
	case string:
		job = v
	case float64:
		job = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if job == "" {
		return fail(0, fmt.Errorf("%w: job id %v", errMalformed, payload[0]))
	}

	c.logger.Debug("data request submitted",
		zap.Int("dataset_id", int(id)),
		zap.String("job_id", job),
	)
	return climate.JobID(job), nil
}

// AwaitCompletion polls the job's progress every PollInterval until it reaches
// 100, the provider reports a failure, or PollMaxWait elapses.
func (c *Client) AwaitCompletion(ctx context.Context, job climate.JobID) error {
	pollCtx := ctx
	if c.pollMaxWait > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, c.pollMaxWait)
		defer cancel()
	}

	values := url.Values{}
	values.Set("id", string(job))

	for {
		var payload []float64
		status, err := c.getJSON(pollCtx, endpointProgress, values, &payload)
		c.metrics.ObservePoll()
		if err != nil {
			if pollCtx.Err() != nil {
				return c.stopped(ctx, job)
			}
			return &climate.JobError{Stage: climate.StageProgress, JobID: job, StatusCode: status, Err: err}
		}
		if len(payload) == 0 {
			return &climate.JobError{Stage: climate.StageProgress, JobID: job, Err: fmt.Errorf("%w: empty progress", errMalformed)}
		}

		progress := payload[0]
		switch {
		case progress < 0:
			return &climate.JobError{Stage: climate.StageProgress, JobID: job, Err: errJobFailed}
		case progress >= 100:
			return nil
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return c.stopped(ctx, job)
		case <-timer.C:
		}
	}
}

// stopped explains why polling ended early: the caller's context, or the
// poll budget running out.
func (c *Client) stopped(ctx context.Context, job climate.JobID) error {
	if err := ctx.Err(); err != nil {
		return &climate.JobError{Stage: climate.StageProgress, JobID: job, Err: err}
	}
	c.logger.Warn("data request stalled",
		zap.String("job_id", string(job)),
		zap.Duration("max_wait", c.pollMaxWait),
	)
	return &climate.JobError{Stage: climate.StageProgress, JobID: job, Err: climate.ErrPollTimeout}
}

// FetchResult downloads the daily series of a completed job.
func (c *Client) FetchResult(ctx context.Context, job climate.JobID) (climate.RawDailySeries, error) {
	values := url.Values{}
	values.Set("id", string(job))

	var payload struct {
		Data *[]climate.DayRecord `json:"data"`
	}
	if status, err := c.getJSON(ctx, endpointData, values, &payload); err != nil {
		return climate.RawDailySeries{}, &climate.JobError{Stage: climate.StageFetch, JobID: job, StatusCode: status, Err: err}
	}
	if payload.Data == nil {
		return climate.RawDailySeries{}, &climate.JobError{Stage: climate.StageFetch, JobID: job, Err: fmt.Errorf("%w: missing data", errMalformed)}
	}

	return climate.RawDailySeries{Days: *payload.Data}, nil
}

// getJSON performs a GET on endpoint and decodes a 2xx JSON body into out. The
// returned status is non-zero whenever the provider answered.
func (c *Client) getJSON(ctx context.Context, endpoint string, values url.Values, out any) (int, error) {
	u := c.baseURL + endpoint + "?" + values.Encode()
	buildRequest := func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return se.code, err
		}
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return resp.StatusCode, nil
}
