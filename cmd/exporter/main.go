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

// The exporter polls Anypoint MQ statistics into Prometheus gauges and
// evaluates configured monitors against them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/collectors/version"

	"github.com/netflexity/anypoint-mq-exporter/pkg/anypoint"
	"github.com/netflexity/anypoint-mq-exporter/pkg/collector"
	"github.com/netflexity/anypoint-mq-exporter/pkg/config"
	"github.com/netflexity/anypoint-mq-exporter/pkg/discovery"
	"github.com/netflexity/anypoint-mq-exporter/pkg/license"
	"github.com/netflexity/anypoint-mq-exporter/pkg/metrics"
	"github.com/netflexity/anypoint-mq-exporter/pkg/monitor"
	"github.com/netflexity/anypoint-mq-exporter/pkg/notify"
	"github.com/netflexity/anypoint-mq-exporter/pkg/web"
)

type mainOptions struct {
	ConfigFile    string
	ListenAddress string
	LogLevel      string
}

func (opts *mainOptions) setupFlags(a *kingpin.Application) {
	a.Flag("config.file", "Path of the YAML configuration file.").
		Default(opts.ConfigFile).StringVar(&opts.ConfigFile)
	a.Flag("web.listen-address", "Address on which to expose metrics and the control-plane API.").
		Default(opts.ListenAddress).StringVar(&opts.ListenAddress)
	a.Flag("log.level", "One of debug, info, warn, error.").
		Default(opts.LogLevel).EnumVar(&opts.LogLevel, "debug", "info", "warn", "error")
}

func levelFilter(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func main() {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	a := kingpin.New("anypoint-mq-exporter", "Prometheus exporter for Anypoint MQ queue and exchange statistics.")
	a.HelpFlag.Short('h')

	opts := mainOptions{
		ConfigFile:    "exporter.yml",
		ListenAddress: ":9100",
		LogLevel:      "info",
	}
	opts.setupFlags(a)

	if _, err := a.Parse(os.Args[1:]); err != nil {
		_ = level.Error(logger).Log("msg", "Error parsing commandline arguments", "err", err)
		a.Usage(os.Args[1:])
		os.Exit(2)
	}
	logger = level.NewFilter(logger, levelFilter(opts.LogLevel))

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		_ = level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		version.NewCollector("anypoint_mq_exporter"),
	)

	tokens, err := anypoint.NewTokenCache(logger, anypoint.AuthOpts{
		BaseURL:      cfg.BaseURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		Timeout:      time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.HTTP.MaxRetries,
	})
	if err != nil {
		_ = level.Error(logger).Log("msg", "invalid authentication configuration", "err", err)
		os.Exit(1)
	}

	client, err := anypoint.NewClient(logger, reg, tokens, anypoint.ClientOpts{
		BaseURL:        cfg.BaseURL,
		ReadTimeout:    time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.HTTP.ConnectTimeoutSeconds) * time.Second,
		MaxRetries:     cfg.HTTP.MaxRetries,
	})
	if err != nil {
		_ = level.Error(logger).Log("msg", "invalid upstream configuration", "err", err)
		os.Exit(1)
	}

	manual := make([]anypoint.Environment, 0, len(cfg.Environments))
	for _, env := range cfg.Environments {
		manual = append(manual, anypoint.Environment{
			ID:             env.ID,
			Name:           env.Name,
			OrganizationID: cfg.OrganizationID,
		})
	}
	disco := discovery.New(logger, client, discovery.Opts{
		Enabled:            cfg.AutoDiscoveryEnabled(),
		RefreshInterval:    cfg.DiscoveryInterval(),
		OrganizationID:     cfg.OrganizationID,
		ManualEnvironments: manual,
	})

	publisher := metrics.NewPublisher(reg)
	coll := collector.New(logger, reg, client, disco, publisher, collector.Opts{
		Enabled:     cfg.ScrapeEnabled(),
		Interval:    cfg.ScrapeInterval(),
		Period:      cfg.ScrapePeriod(),
		Regions:     cfg.Regions,
		Concurrency: cfg.Scrape.Concurrency,
	})

	lic := license.New(cfg.License.Key)
	dispatcher := notify.NewDispatcher(logger, reg, cfg.Monitors.Notifications.Channels)

	evaluator, err := monitor.New(logger, reg, coll, dispatcher, lic, cfg.Monitors.Definitions, monitor.Opts{
		Enabled:  cfg.MonitorsEnabled(),
		Interval: cfg.EvaluationInterval(),
		Defaults: cfg.Monitors.Defaults,
	})
	if err != nil {
		_ = level.Error(logger).Log("msg", "invalid monitor configuration", "err", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    opts.ListenAddress,
		Handler: web.New(logger, reg, cfg, tokens, disco, evaluator, dispatcher, lic),
	}

	_ = level.Info(logger).Log("msg", "starting exporter",
		"base_url", cfg.BaseURL,
		"tier", lic.Tier(),
		"regions", fmt.Sprintf("%v", cfg.Regions),
		"channels", fmt.Sprintf("%v", dispatcher.Channels()),
	)

	ctx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var g run.Group
	{
		// Termination handler.
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				select {
				case <-term:
					_ = level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
				case <-cancel:
				}
				return nil
			},
			func(error) {
				close(cancel)
			},
		)
	}
	{
		// Environment discovery.
		discoCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return disco.Run(discoCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		// Statistics collection.
		collCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return coll.Run(collCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		// Monitor evaluation.
		evalCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return evaluator.Run(evalCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		// Web server.
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "starting web server", "listen", opts.ListenAddress)
			return server.ListenAndServe()
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				_ = level.Error(logger).Log("msg", "web server failed to shut down gracefully", "err", err)
			}
		})
	}

	if err := g.Run(); err != nil {
		_ = level.Error(logger).Log("msg", "running exporter failed", "err", err)
		os.Exit(1)
	}
	_ = level.Info(logger).Log("msg", "exporter stopped")
}
