// Package metrics exposes Prometheus counters for the identity operations.
//
// Every counter is labelled by the Status the operation returned, so a
// dashboard can tell a CalmingDown storm from real failures. Collectors are
// registered on an injected Registerer (never the global default), which
// lets tests build a fresh Recorder per case.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/identity-service/internal/model"
)

type Recorder struct {
	codeRequests  *prometheus.CounterVec
	codeChecks    *prometheus.CounterVec
	registrations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	wechatLogins  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"status"})
	}
	return &Recorder{
		codeRequests:  counter("identity_code_requests_total", "Verification code requests by result status."),
		codeChecks:    counter("identity_code_checks_total", "Verification code checks by result status."),
		registrations: counter("identity_registrations_total", "Account registrations by result status."),
		logins:        counter("identity_logins_total", "Password logins by result status."),
		wechatLogins:  counter("identity_wechat_logins_total", "WeChat logins by outcome (success|failure)."),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

func (r *Recorder) CodeRequested(s model.Status) {
	if r != nil {
		r.codeRequests.WithLabelValues(string(s)).Inc()
	}
}

func (r *Recorder) CodeChecked(s model.Status) {
	if r != nil {
		r.codeChecks.WithLabelValues(string(s)).Inc()
	}
}

func (r *Recorder) Registered(s model.Status) {
	if r != nil {
		r.registrations.WithLabelValues(string(s)).Inc()
	}
}

func (r *Recorder) LoggedIn(s model.Status) {
	if r != nil {
		r.logins.WithLabelValues(string(s)).Inc()
	}
}

// WeChatLogin counts an external login; err == nil is a success.
func (r *Recorder) WeChatLogin(err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.wechatLogins.WithLabelValues(status).Inc()
}

// ObserveHTTP records one request. route is the chi route pattern, not the
// raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(method, route string, code int, d time.Duration) {
	if r != nil {
		r.httpDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
	}
}
