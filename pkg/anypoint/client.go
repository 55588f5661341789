// Copyright 2024 Netflexity, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package anypoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statsDateFormat is the millisecond-precision UTC format the stats API expects.
const statsDateFormat = "2006-01-02T15:04:05.000Z"

// retryBackoffBase is the initial delay between retries of transient failures.
const retryBackoffBase = time.Second

// TokenProvider supplies a valid credential for outbound calls.
type TokenProvider interface {
	Token(ctx context.Context) (*Credential, error)
}

// ClientOpts holds options for the upstream API client.
type ClientOpts struct {
	// BaseURL is the Anypoint platform base URL.
	BaseURL string
	// ReadTimeout bounds every individual request.
	ReadTimeout time.Duration
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// MaxRetries bounds attempts for transient failures.
	MaxRetries int
}

// Client issues typed calls against the Anypoint administrative and
// statistics APIs.
type Client struct {
	logger log.Logger
	base   *url.URL
	client *http.Client
	tokens TokenProvider
	opts   ClientOpts
}

// NewClient returns a client for the given base URL. All requests carry a
// bearer credential from the provider and are retried on transient failures
// with exponential backoff.
func NewClient(logger log.Logger, reg prometheus.Registerer, tokens TokenProvider, opts ClientOpts) (*Client, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", opts.BaseURL, err)
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	client := &http.Client{
		Transport: instrumentTransport(reg, transport),
		Timeout:   opts.ReadTimeout,
	}
	return &Client{
		logger: logger,
		base:   base,
		client: client,
		tokens: tokens,
		opts:   opts,
	}, nil
}

// instrumentTransport wraps the transport with request count and latency
// observation.
func instrumentTransport(reg prometheus.Registerer, rt http.RoundTripper) http.RoundTripper {
	requestCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anypoint_api_requests_total",
			Help: "A counter for requests sent to the Anypoint platform APIs.",
		},
		[]string{"code", "method"},
	)
	requestHistogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anypoint_api_request_latency_seconds",
			Help:    "Histogram of response latency of requests sent to the Anypoint platform APIs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "method"},
	)
	if reg != nil {
		reg.MustRegister(requestCounter, requestHistogram)
	}
	return promhttp.InstrumentRoundTripperCounter(requestCounter,
		promhttp.InstrumentRoundTripperDuration(requestHistogram, rt))
}

// ListSelf returns the root organization the credential belongs to and the
// organizations it is a member of.
func (c *Client) ListSelf(ctx context.Context) (Organization, []Organization, error) {
	var body struct {
		User struct {
			Organization struct {
				ID                 string   `json:"id"`
				Name               string   `json:"name"`
				SubOrganizationIDs []string `json:"subOrganizationIds"`
			} `json:"organization"`
			MemberOfOrganizations []Organization `json:"memberOfOrganizations"`
		} `json:"user"`
	}
	if err := c.get(ctx, "/accounts/api/me", nil, &body); err != nil {
		return Organization{}, nil, err
	}
	root := Organization{ID: body.User.Organization.ID, Name: body.User.Organization.Name}
	return root, body.User.MemberOfOrganizations, nil
}

// ListEnvironments returns the environments of the given organization in API
// order.
func (c *Client) ListEnvironments(ctx context.Context, orgID string) ([]Environment, error) {
	var body struct {
		Data []Environment `json:"data"`
	}
	p := fmt.Sprintf("/accounts/api/organizations/%s/environments", url.PathEscape(orgID))
	if err := c.get(ctx, p, nil, &body); err != nil {
		return nil, err
	}
	for i := range body.Data {
		body.Data[i].OrganizationID = orgID
	}
	return body.Data, nil
}

// destinationRecord is the wire shape of a destination list element. The
// endpoint serves queues and exchanges interleaved, discriminated by type.
type destinationRecord struct {
	Type                     string    `json:"type"`
	QueueID                  string    `json:"queueId"`
	QueueName                string    `json:"queueName"`
	ExchangeID               string    `json:"exchangeId"`
	ExchangeName             string    `json:"exchangeName"`
	FIFO                     bool      `json:"fifo"`
	DefaultTTL               FlexInt64 `json:"defaultTtl"`
	DefaultLockTTL           FlexInt64 `json:"defaultLockTtl"`
	MaxDeliveries            FlexInt64 `json:"maxDeliveries"`
	DefaultDeadLetterQueueID string    `json:"defaultDeadLetterQueueId"`
	Encrypted                bool      `json:"encrypted"`
}

// ListDestinations returns the queues and exchanges of the given environment
// and region from a single destinations listing, partitioned by the kind
// attribute of each record. The upstream may ignore a type filter parameter,
// so both kinds always come from one response.
func (c *Client) ListDestinations(ctx context.Context, orgID, envID, region string) ([]Queue, []Exchange, error) {
	var records []destinationRecord
	p := fmt.Sprintf("/mq/admin/api/v1/organizations/%s/environments/%s/regions/%s/destinations",
		url.PathEscape(orgID), url.PathEscape(envID), url.PathEscape(region))
	if err := c.get(ctx, p, nil, &records); err != nil {
		return nil, nil, err
	}
	var queues []Queue
	var exchanges []Exchange
	for _, r := range records {
		switch {
		case strings.EqualFold(r.Type, "queue"):
			queues = append(queues, Queue{
				ID:                r.QueueID,
				Name:              r.QueueName,
				EnvironmentID:     envID,
				Region:            region,
				FIFO:              r.FIFO,
				DefaultTTLMillis:  int64(r.DefaultTTL),
				MaxDeliveries:     int64(r.MaxDeliveries),
				DeadLetterQueueID: r.DefaultDeadLetterQueueID,
				Encrypted:         r.Encrypted,
			})
		case strings.EqualFold(r.Type, "exchange"):
			exchanges = append(exchanges, Exchange{
				ID:            r.ExchangeID,
				Name:          r.ExchangeName,
				EnvironmentID: envID,
				Region:        region,
				Encrypted:     r.Encrypted,
			})
		}
	}
	return queues, exchanges, nil
}

// GetQueueStats fetches queue statistics over the trailing period.
func (c *Client) GetQueueStats(ctx context.Context, orgID, envID, region, queueID string, period time.Duration) (QueueStats, error) {
	var body struct {
		MessagesInQueue    FlexInt64   `json:"messagesInQueue"`
		MessagesInFlight   FlexInt64   `json:"messagesInFlight"`
		MessagesSent       FlexInt64   `json:"messagesSent"`
		MessagesReceived   FlexInt64   `json:"messagesReceived"`
		MessagesAcked      FlexInt64   `json:"messagesAcked"`
		QueueSize          FlexFloat64 `json:"queueSize"`
		AverageMessageSize FlexFloat64 `json:"averageMessageSize"`
	}
	p := fmt.Sprintf("/mq/stats/api/v1/organizations/%s/environments/%s/regions/%s/queues/%s",
		url.PathEscape(orgID), url.PathEscape(envID), url.PathEscape(region), url.PathEscape(queueID))
	if err := c.get(ctx, p, statsQuery(time.Now(), period), &body); err != nil {
		return QueueStats{}, err
	}
	return QueueStats{
		MessagesInQueue:    int64(body.MessagesInQueue),
		MessagesInFlight:   int64(body.MessagesInFlight),
		MessagesSent:       int64(body.MessagesSent),
		MessagesReceived:   int64(body.MessagesReceived),
		MessagesAcked:      int64(body.MessagesAcked),
		QueueSizeBytes:     body.QueueSize.Ptr(),
		AverageMessageSize: body.AverageMessageSize.Ptr(),
	}, nil
}

// GetExchangeStats fetches exchange statistics over the trailing period.
func (c *Client) GetExchangeStats(ctx context.Context, orgID, envID, region, exchangeID string, period time.Duration) (ExchangeStats, error) {
	var body struct {
		MessagesPublished FlexInt64 `json:"messagesPublished"`
		MessagesDelivered FlexInt64 `json:"messagesDelivered"`
	}
	p := fmt.Sprintf("/mq/stats/api/v1/organizations/%s/environments/%s/regions/%s/exchanges/%s",
		url.PathEscape(orgID), url.PathEscape(envID), url.PathEscape(region), url.PathEscape(exchangeID))
	if err := c.get(ctx, p, statsQuery(time.Now(), period), &body); err != nil {
		return ExchangeStats{}, err
	}
	return ExchangeStats{
		MessagesPublished: int64(body.MessagesPublished),
		MessagesDelivered: int64(body.MessagesDelivered),
	}, nil
}

// statsQuery builds the trailing date range parameters for a stats request.
func statsQuery(now time.Time, period time.Duration) url.Values {
	end := now.UTC()
	start := end.Add(-period)
	return url.Values{
		"startDate": []string{start.Format(statsDateFormat)},
		"endDate":   []string{end.Format(statsDateFormat)},
		"period":    []string{fmt.Sprintf("%d", int64(period.Seconds()))},
	}
}

// get performs an authenticated GET with bounded retries and decodes the JSON
// response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	op := func() error {
		cred, err := c.tokens.Token(ctx)
		if err != nil {
			// Authentication errors are surfaced unretried; without a
			// credential no attempt can make progress.
			return backoff.Permanent(err)
		}

		u := *c.base
		u.Path = strings.TrimSuffix(u.Path, "/") + path
		if query != nil {
			u.RawQuery = query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", cred.TokenType+" "+cred.AccessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: GET %s", ErrNotFound, path))
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if !retryable(serr) {
				return backoff.Permanent(serr)
			}
			return serr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode GET %s: %w", path, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBackoffBase
	err := backoff.RetryNotify(
		op,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.opts.MaxRetries-1)), ctx),
		func(err error, next time.Duration) {
			_ = level.Debug(c.logger).Log("msg", "retrying upstream call", "path", path, "err", err, "backoff", next)
		},
	)
	return err
}
