// Package metrics makes the kernel's security-relevant counters visible
// to Prometheus: each one is a promauto-registered counter (a CounterVec
// where a label applies) that internal/oauth and internal/auth increment
// inline with
// issuance/validation/ban decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts access/refresh tokens minted by the token
	// service, labeled by grant type.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "madkernel_oauth_tokens_issued_total",
		Help: "Total OAuth bearer tokens issued, by grant type.",
	}, []string{"grant_type"})

	// TokenValidations counts TokenService.Validate calls, labeled by
	// outcome ("ok", "expired", "malformed").
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "madkernel_oauth_token_validations_total",
		Help: "Total OAuth bearer token validation attempts, by outcome.",
	}, []string{"outcome"})

	// Fail2BanTrips counts authentications that tripped the fail-to-ban
	// threshold.
	Fail2BanTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "madkernel_auth_fail2ban_trips_total",
		Help: "Total authentications that tripped the fail-to-ban threshold.",
	})
)
