// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"

	"github.com/hashicorp/oac/oidc"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts outcomes of the Handler's operations. A nil *Metrics counts
// nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   *prometheus.CounterVec
}

// NewMetrics creates the Handler's collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const op = "callback.NewMetrics"
	if reg == nil {
		return nil, fmt.Errorf("%s: registerer is nil: %w", op, oidc.ErrNilParameter)
	}
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oac",
			Name:      "logins_total",
			Help:      "Callback attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oac",
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes attempted by the middleware, by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oac",
			Name:      "logouts_total",
			Help:      "Logouts by reason.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.logins, m.refreshes, m.logouts} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%s: unable to register collector: %w", op, err)
		}
	}
	return m, nil
}

// result labels an outcome by the kind of err.
func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, oidc.ErrProviderRequest):
		return "bad_request"
	case errors.Is(err, oidc.ErrMismatchingState):
		return "mismatching_state"
	case errors.Is(err, oidc.ErrExpiredState):
		return "expired_state"
	case errors.Is(err, oidc.ErrNoUser):
		return "no_user"
	case errors.Is(err, oidc.ErrInsufficientPayload):
		return "insufficient_payload"
	case errors.Is(err, oidc.ErrProviderResponse):
		return "provider_error"
	case errors.Is(err, oidc.ErrConfiguration):
		return "configuration_error"
	default:
		return "error"
	}
}

func (m *Metrics) login(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) logout(reason string) {
	if m == nil {
		return
	}
	m.logouts.WithLabelValues(reason).Inc()
}
