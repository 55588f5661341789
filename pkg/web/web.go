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

// Package web serves the metrics endpoint and the control-plane API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netflexity/anypoint-mq-exporter/pkg/anypoint"
	"github.com/netflexity/anypoint-mq-exporter/pkg/config"
	"github.com/netflexity/anypoint-mq-exporter/pkg/discovery"
	"github.com/netflexity/anypoint-mq-exporter/pkg/license"
	"github.com/netflexity/anypoint-mq-exporter/pkg/monitor"
	"github.com/netflexity/anypoint-mq-exporter/pkg/notify"
)

const (
	// healthCacheTTL bounds how often the health endpoint probes upstream
	// authentication.
	healthCacheTTL = 30 * time.Second
	// healthProbeTimeout bounds one authentication probe.
	healthProbeTimeout = 10 * time.Second
)

// TokenSource is the authentication surface the health endpoint probes.
type TokenSource interface {
	Token(ctx context.Context) (*anypoint.Credential, error)
	Status() (lastSuccess time.Time, lastErr error)
}

// Server exposes the metrics endpoint, health checks and the JSON control
// plane.
type Server struct {
	logger     log.Logger
	gatherer   prometheus.Gatherer
	cfg        *config.Config
	tokens     TokenSource
	disco      *discovery.Engine
	evaluator  *monitor.Evaluator
	dispatcher *notify.Dispatcher
	lic        *license.License
	mux        *http.ServeMux

	healthMu        sync.Mutex
	healthCheckedAt time.Time
	healthOK        bool
	healthErr       string
	now             func() time.Time
}

// New builds the server and registers all routes.
func New(logger log.Logger, gatherer prometheus.Gatherer, cfg *config.Config, tokens TokenSource, disco *discovery.Engine, evaluator *monitor.Evaluator, dispatcher *notify.Dispatcher, lic *license.License) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		logger:     logger,
		gatherer:   gatherer,
		cfg:        cfg,
		tokens:     tokens,
		disco:      disco,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		lic:        lic,
		mux:        http.NewServeMux(),
		now:        time.Now,
	}

	s.mux.Handle("GET /actuator/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /actuator/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/discover", s.handleDiscover)
	s.mux.HandleFunc("GET /api/monitors", s.handleMonitors)
	s.mux.HandleFunc("GET /api/monitors/{name}", s.handleMonitor)
	s.mux.HandleFunc("POST /api/monitors/{name}/test", s.handleMonitorTest)
	s.mux.HandleFunc("GET /api/health-scores", s.handleHealthScores)
	s.mux.HandleFunc("GET /api/health-scores/{queueName}", s.handleHealthScore)
	s.mux.HandleFunc("GET /api/license", s.handleLicense)
	s.mux.HandleFunc("GET /-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("exporter is healthy.\n"))
	})
	s.mux.HandleFunc("GET /-/ready", s.handleReady)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// authHealthy probes upstream authentication, reusing the previous answer
// within the cache TTL.
func (s *Server) authHealthy(ctx context.Context) (bool, string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	now := s.now()
	if !s.healthCheckedAt.IsZero() && now.Sub(s.healthCheckedAt) < healthCacheTTL {
		return s.healthOK, s.healthErr
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	_, err := s.tokens.Token(probeCtx)

	s.healthCheckedAt = now
	s.healthOK = err == nil
	s.healthErr = ""
	if err != nil {
		s.healthErr = err.Error()
		_ = level.Warn(s.logger).Log("msg", "health probe failed", "err", err)
	}
	return s.healthOK, s.healthErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, authErr := s.authHealthy(r.Context())

	auth := map[string]interface{}{"status": "UP"}
	if !ok {
		auth["status"] = "DOWN"
		auth["error"] = authErr
	}
	if lastSuccess, _ := s.tokens.Status(); !lastSuccess.IsZero() {
		auth["lastSuccess"] = lastSuccess.UTC().Format(time.RFC3339)
	}

	body := map[string]interface{}{
		"status": "UP",
		"details": map[string]interface{}{
			"authentication": auth,
			"configuration":  s.cfg.Fingerprint(),
			"discovery": map[string]interface{}{
				"complete": s.disco.Complete(),
			},
		},
	}
	code := http.StatusOK
	if !ok {
		body["status"] = "DOWN"
		code = http.StatusServiceUnavailable
	}
	writeResponseRaw(s.logger, w, code, body)
}

// statusSummary is the body of /api/status and the response of /api/discover.
type statusSummary struct {
	AutoDiscovery  bool               `json:"autoDiscovery"`
	OrganizationID string             `json:"organizationId,omitempty"`
	Organizations  []organizationInfo `json:"organizations"`
	Environments   []environmentInfo  `json:"environments"`
	Regions        []string           `json:"regions"`
	ScrapeInterval string             `json:"scrapeInterval"`
	ScrapePeriod   string             `json:"scrapePeriod"`
	DiscoveredAt   *time.Time         `json:"discoveredAt,omitempty"`
}

type organizationInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type environmentInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"organizationId,omitempty"`
	Type           string `json:"type,omitempty"`
	IsProduction   bool   `json:"isProduction"`
}

func (s *Server) summarize(snap *discovery.Snapshot) statusSummary {
	summary := statusSummary{
		AutoDiscovery:  s.cfg.AutoDiscoveryEnabled(),
		OrganizationID: s.disco.OrganizationID(),
		Organizations:  []organizationInfo{},
		Environments:   []environmentInfo{},
		Regions:        s.cfg.Regions,
		ScrapeInterval: s.cfg.ScrapeInterval().String(),
		ScrapePeriod:   s.cfg.ScrapePeriod().String(),
	}
	if snap == nil {
		return summary
	}
	for _, org := range snap.Organizations {
		summary.Organizations = append(summary.Organizations, organizationInfo{ID: org.ID, Name: org.Name})
	}
	for _, env := range snap.Environments {
		summary.Environments = append(summary.Environments, environmentInfo{
			ID:             env.ID,
			Name:           env.Name,
			OrganizationID: env.OrganizationID,
			Type:           env.Type,
			IsProduction:   env.IsProduction,
		})
	}
	if !snap.CompletedAt.IsZero() {
		t := snap.CompletedAt
		summary.DiscoveredAt = &t
	}
	return summary
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(s.logger, w, s.summarize(s.disco.Snapshot()))
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	snap, err := s.disco.Refresh(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, errorUnavailable, fmt.Sprintf("discovery failed: %s", err))
		return
	}
	writeSuccess(s.logger, w, s.summarize(snap))
}

// monitorView pairs a definition with its per-destination states.
type monitorView struct {
	Name            string              `json:"name"`
	Type            monitor.Type        `json:"type"`
	Target          string              `json:"target"`
	Condition       monitor.Condition   `json:"condition"`
	Threshold       float64             `json:"threshold"`
	WindowMinutes   int                 `json:"evaluationWindowMinutes"`
	CooldownMinutes int                 `json:"cooldownMinutes"`
	Severity        notify.Severity     `json:"severity"`
	Channels        []string            `json:"channels"`
	States          []monitor.StateView `json:"states,omitempty"`
}

func (s *Server) monitorView(def monitor.Definition, withStates bool) monitorView {
	view := monitorView{
		Name:            def.Name,
		Type:            def.Type,
		Target:          def.Target,
		Condition:       def.Condition,
		Threshold:       def.Threshold,
		WindowMinutes:   def.EvaluationWindowMinutes,
		CooldownMinutes: def.CooldownMinutes,
		Severity:        def.Severity,
		Channels:        def.Channels,
	}
	if withStates {
		view.States = s.evaluator.StatesFor(def.Name)
	}
	return view
}

// requireMonitors rejects monitor and health-score requests on tiers without
// the monitors feature.
func (s *Server) requireMonitors(w http.ResponseWriter) bool {
	if !s.lic.Allows(license.FeatureMonitors) {
		writeError(s.logger, w, http.StatusForbidden, errorForbidden, "monitors require a pro license")
		return false
	}
	return true
}

func (s *Server) handleMonitors(w http.ResponseWriter, _ *http.Request) {
	if !s.requireMonitors(w) {
		return
	}
	defs := s.evaluator.Definitions()
	views := make([]monitorView, 0, len(defs))
	for _, def := range defs {
		views = append(views, s.monitorView(def, false))
	}
	writeSuccess(s.logger, w, views)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if !s.requireMonitors(w) {
		return
	}
	name := r.PathValue("name")
	def, ok := s.evaluator.Definition(name)
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, errorNotFound, fmt.Sprintf("no monitor named %q", name))
		return
	}
	writeSuccess(s.logger, w, s.monitorView(def, true))
}

func (s *Server) handleMonitorTest(w http.ResponseWriter, r *http.Request) {
	if !s.lic.Allows(license.FeatureTestAlerts) {
		writeError(s.logger, w, http.StatusForbidden, errorForbidden, "test alerts require a pro license")
		return
	}
	name := r.PathValue("name")
	def, ok := s.evaluator.Definition(name)
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, errorNotFound, fmt.Sprintf("no monitor named %q", name))
		return
	}
	alert := &notify.Alert{
		Monitor:     def.Name,
		Queue:       "test-queue",
		Environment: "test",
		Region:      "test",
		Severity:    def.Severity,
		Current:     def.Threshold,
		Threshold:   def.Threshold,
		Message:     "synthetic test alert",
		TriggeredAt: s.now(),
		Metadata:    map[string]interface{}{"test": true},
	}
	delivered := s.dispatcher.Dispatch(r.Context(), alert, def.Channels)
	writeSuccess(s.logger, w, map[string]interface{}{
		"monitor":   def.Name,
		"channels":  def.Channels,
		"delivered": delivered,
	})
}

func (s *Server) handleHealthScores(w http.ResponseWriter, _ *http.Request) {
	if !s.requireMonitors(w) {
		return
	}
	writeSuccess(s.logger, w, s.evaluator.HealthScores())
}

func (s *Server) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	if !s.requireMonitors(w) {
		return
	}
	name := r.PathValue("queueName")
	scores := s.evaluator.HealthScoresFor(name)
	if len(scores) == 0 {
		writeError(s.logger, w, http.StatusNotFound, errorNotFound, fmt.Sprintf("no health score for queue %q", name))
		return
	}
	writeSuccess(s.logger, w, scores)
}

func (s *Server) handleLicense(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(s.logger, w, map[string]interface{}{
		"tier":        s.lic.Tier(),
		"maxMonitors": s.lic.MaxMonitors(),
		"features":    s.lic.Features(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.disco.Complete() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("discovery has not completed.\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("exporter is ready.\n"))
}
