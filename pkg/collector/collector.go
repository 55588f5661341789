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

// Package collector runs the scheduled collection pipeline: it joins the
// discovered environments with the configured regions, enumerates the
// destinations of each tuple, fetches per-destination statistics with bounded
// parallelism and republishes them as labeled gauges.
package collector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/netflexity/anypoint-mq-exporter/pkg/anypoint"
	"github.com/netflexity/anypoint-mq-exporter/pkg/discovery"
	"github.com/netflexity/anypoint-mq-exporter/pkg/metrics"
)

var (
	scrapeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrape_duration_seconds",
		Help:    "Duration of one collection pass over all environments, regions and destinations.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	lastScrapeTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "last_scrape_timestamp_seconds",
		Help: "Unix time of the last collection pass that was not a total failure.",
	})
	scrapeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_errors_total",
		Help: "Number of per-destination and per-environment collection failures by cause.",
	}, []string{"cause"})
)

// Error causes counted on scrape_errors_total.
const (
	CauseQueueStats    = "queue_stats_failed"
	CauseExchangeStats = "exchange_stats_failed"
	CauseQueueList     = "queue_list_failed"
	CauseExchangeList  = "exchange_list_failed"
	CauseEnvironment   = "environment_failed"
)

// Queue metric names.
const (
	MetricMessagesInQueue    = "anypoint_mq_queue_messages_in_queue"
	MetricMessagesInFlight   = "anypoint_mq_queue_messages_in_flight"
	MetricMessagesSent       = "anypoint_mq_queue_messages_sent"
	MetricMessagesReceived   = "anypoint_mq_queue_messages_received"
	MetricMessagesAcked      = "anypoint_mq_queue_messages_acked"
	MetricQueueSizeBytes     = "anypoint_mq_queue_size_bytes"
	MetricAverageMessageSize = "anypoint_mq_queue_average_message_size_bytes"
	MetricQueueInfo          = "anypoint_mq_queue"

	MetricMessagesPublished = "anypoint_mq_exchange_messages_published"
	MetricMessagesDelivered = "anypoint_mq_exchange_messages_delivered"
	MetricExchangeInfo      = "anypoint_mq_exchange"
)

// queueMetricNames are the per-queue series swept when a destination goes stale.
var queueMetricNames = []string{
	MetricMessagesInQueue, MetricMessagesInFlight, MetricMessagesSent,
	MetricMessagesReceived, MetricMessagesAcked, MetricQueueSizeBytes,
	MetricAverageMessageSize, MetricQueueInfo,
}

// API is the subset of the upstream client used by the collector.
type API interface {
	ListDestinations(ctx context.Context, orgID, envID, region string) ([]anypoint.Queue, []anypoint.Exchange, error)
	GetQueueStats(ctx context.Context, orgID, envID, region, queueID string, period time.Duration) (anypoint.QueueStats, error)
	GetExchangeStats(ctx context.Context, orgID, envID, region, exchangeID string, period time.Duration) (anypoint.ExchangeStats, error)
}

// Key identifies a queue snapshot handed to the monitor evaluator.
type Key struct {
	Queue       string
	Environment string
	Region      string
}

// QueueSnapshot is the latest observed state of one queue.
type QueueSnapshot struct {
	Key        Key
	Stats      anypoint.QueueStats
	IsDLQ      bool
	ReceivedAt time.Time
}

// Opts configures the collector.
type Opts struct {
	// Enabled gates the collection loop.
	Enabled bool
	// Interval is the fixed delay between collection passes.
	Interval time.Duration
	// Period is the trailing statistics window requested upstream.
	Period time.Duration
	// Regions scanned per environment.
	Regions []string
	// Concurrency bounds parallel per-destination stats fetches.
	Concurrency int
	// StaleAfter retires stats map entries not refreshed for this long.
	// Zero selects three collection intervals.
	StaleAfter time.Duration
}

// Collector is the scheduled collection pipeline.
type Collector struct {
	logger    log.Logger
	api       API
	disco     *discovery.Engine
	publisher *metrics.Publisher
	opts      Opts
	now       func() time.Time

	mu    sync.RWMutex
	stats map[Key]QueueSnapshot
}

// New returns a collector publishing through the given publisher.
func New(logger log.Logger, reg prometheus.Registerer, api API, disco *discovery.Engine, publisher *metrics.Publisher, opts Opts) *Collector {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	if opts.Period == 0 {
		opts.Period = 10 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 20
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 3 * opts.Interval
	}
	if reg != nil {
		reg.MustRegister(scrapeDuration, lastScrapeTimestamp, scrapeErrors)
	}
	return &Collector{
		logger:    logger,
		api:       api,
		disco:     disco,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
		stats:     map[Key]QueueSnapshot{},
	}
}

// QueueSnapshots returns the latest per-queue stats. The returned slice is a
// copy; snapshots are immutable.
func (c *Collector) QueueSnapshots() []QueueSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]QueueSnapshot, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, s)
	}
	return out
}

// Run executes collection passes on a fixed delay until the context is
// cancelled. A pass that overruns the interval never overlaps with the next.
func (c *Collector) Run(ctx context.Context) error {
	if !c.opts.Enabled {
		_ = level.Info(c.logger).Log("msg", "collection disabled")
		<-ctx.Done()
		return nil
	}
	c.RunCycle(ctx)
	timer := time.NewTimer(c.opts.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			c.RunCycle(ctx)
			timer.Reset(c.opts.Interval)
		}
	}
}

// RunCycle performs one collection pass. Failures of a single destination or
// environment are counted and never abort the pass.
func (c *Collector) RunCycle(ctx context.Context) {
	start := c.now()
	defer func() {
		scrapeDuration.Observe(c.now().Sub(start).Seconds())
	}()

	snap := c.disco.Snapshot()
	if snap == nil {
		_ = level.Debug(c.logger).Log("msg", "skipping collection, discovery incomplete")
		return
	}

	var pairs, failed int
	for _, env := range snap.Environments {
		for _, region := range c.opts.Regions {
			pairs++
			if !c.collectEnvironment(ctx, env, region) {
				failed++
				scrapeErrors.WithLabelValues(CauseEnvironment).Inc()
			}
		}
	}

	c.sweepStale()

	// A fully failed pass keeps the last-scrape timestamp untouched so that
	// staleness is visible to the scraper.
	if pairs == 0 || failed < pairs {
		lastScrapeTimestamp.Set(float64(c.now().Unix()))
	}
	_ = level.Debug(c.logger).Log("msg", "collection pass complete", "tuples", pairs, "failed", failed, "duration", c.now().Sub(start))
}

// collectEnvironment gathers one (environment, region) tuple. The tuple's
// destinations come from a single listing, so queues and exchanges always
// reflect the same point in time. It reports false when the listing failed.
func (c *Collector) collectEnvironment(ctx context.Context, env anypoint.Environment, region string) bool {
	queues, exchanges, err := c.api.ListDestinations(ctx, env.OrganizationID, env.ID, region)
	if err != nil {
		// One listing serves both kinds; its failure counts against each.
		scrapeErrors.WithLabelValues(CauseQueueList).Inc()
		scrapeErrors.WithLabelValues(CauseExchangeList).Inc()
		_ = level.Warn(c.logger).Log("msg", "listing destinations failed", "environment", env.Name, "region", region, "err", err)
		return false
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, q := range queues {
		g.Go(func() error {
			c.collectQueue(gctx, env, region, q)
			return nil
		})
	}
	for _, x := range exchanges {
		g.Go(func() error {
			c.collectExchange(gctx, env, region, x)
			return nil
		})
	}
	_ = g.Wait()
	return true
}

func (c *Collector) collectQueue(ctx context.Context, env anypoint.Environment, region string, q anypoint.Queue) {
	stats, err := c.api.GetQueueStats(ctx, env.OrganizationID, env.ID, region, q.ID, c.opts.Period)
	if err != nil {
		scrapeErrors.WithLabelValues(CauseQueueStats).Inc()
		_ = level.Debug(c.logger).Log("msg", "fetching queue stats failed", "queue", q.SanitizedName(), "environment", env.Name, "region", region, "err", err)
		return
	}

	name := q.SanitizedName()
	labels := prometheus.Labels{"environment": env.Name, "queue_name": name, "region": region}
	isDLQ := q.IsDLQ()

	c.setGauge(MetricMessagesInQueue, "Number of messages in the queue.", labels, float64(stats.MessagesInQueue))
	c.setGauge(MetricMessagesInFlight, "Number of in-flight messages.", labels, float64(stats.MessagesInFlight))
	c.setGauge(MetricMessagesSent, "Messages sent to the queue during the statistics window.", labels, float64(stats.MessagesSent))
	c.setGauge(MetricMessagesReceived, "Messages received from the queue during the statistics window.", labels, float64(stats.MessagesReceived))
	c.setGauge(MetricMessagesAcked, "Messages acknowledged during the statistics window.", labels, float64(stats.MessagesAcked))
	if stats.QueueSizeBytes != nil {
		c.setGauge(MetricQueueSizeBytes, "Total size of the queue in bytes.", labels, *stats.QueueSizeBytes)
	}
	if stats.AverageMessageSize != nil {
		c.setGauge(MetricAverageMessageSize, "Average message size in bytes.", labels, *stats.AverageMessageSize)
	}

	infoLabels := prometheus.Labels{
		"environment":    env.Name,
		"queue_name":     name,
		"region":         region,
		"is_fifo":        strconv.FormatBool(q.FIFO),
		"is_dlq":         strconv.FormatBool(isDLQ),
		"max_deliveries": strconv.FormatInt(q.MaxDeliveries, 10),
		"ttl":            strconv.FormatInt(q.DefaultTTLMillis, 10),
	}
	c.setGauge(MetricQueueInfo, "Queue metadata.", infoLabels, 1)

	key := Key{Queue: name, Environment: env.Name, Region: region}
	c.mu.Lock()
	c.stats[key] = QueueSnapshot{Key: key, Stats: stats, IsDLQ: isDLQ, ReceivedAt: c.now()}
	c.mu.Unlock()
}

func (c *Collector) collectExchange(ctx context.Context, env anypoint.Environment, region string, x anypoint.Exchange) {
	stats, err := c.api.GetExchangeStats(ctx, env.OrganizationID, env.ID, region, x.ID, c.opts.Period)
	if err != nil {
		scrapeErrors.WithLabelValues(CauseExchangeStats).Inc()
		_ = level.Debug(c.logger).Log("msg", "fetching exchange stats failed", "exchange", x.SanitizedName(), "environment", env.Name, "region", region, "err", err)
		return
	}

	labels := prometheus.Labels{"environment": env.Name, "exchange_name": x.SanitizedName(), "region": region}
	c.setGauge(MetricMessagesPublished, "Messages published to the exchange during the statistics window.", labels, float64(stats.MessagesPublished))
	c.setGauge(MetricMessagesDelivered, "Messages delivered by the exchange during the statistics window.", labels, float64(stats.MessagesDelivered))
	c.setGauge(MetricExchangeInfo, "Exchange metadata.", labels, 1)
}

func (c *Collector) setGauge(name, help string, labels prometheus.Labels, value float64) {
	if err := c.publisher.Set(name, help, labels, value); err != nil {
		_ = level.Warn(c.logger).Log("msg", "publishing gauge failed", "metric", name, "err", err)
	}
}

// sweepStale drops stats map entries and their series that have not been
// refreshed within the staleness bound.
func (c *Collector) sweepStale() {
	cutoff := c.now().Add(-c.opts.StaleAfter)
	c.mu.Lock()
	var stale []Key
	for key, s := range c.stats {
		if s.ReceivedAt.Before(cutoff) {
			stale = append(stale, key)
			delete(c.stats, key)
		}
	}
	c.mu.Unlock()

	for _, key := range stale {
		labels := prometheus.Labels{"environment": key.Environment, "queue_name": key.Queue, "region": key.Region}
		for _, name := range queueMetricNames {
			c.publisher.DeletePartial(name, labels)
		}
		_ = level.Debug(c.logger).Log("msg", "retired stale queue", "queue", key.Queue, "environment", key.Environment, "region", key.Region)
	}
}

// String implements fmt.Stringer for debug logging.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Environment, k.Region, k.Queue)
}
