package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/identity/internal/domain"
)

// Verification outcomes.
const (
	outcomeValid    = "valid"
	outcomeAbsent   = "absent"
	outcomeMismatch = "mismatch"
	outcomeBurned   = "burned"
)

var (
	tokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_tokens_issued_total",
			Help: "Ledger tokens issued, by process kind.",
		},
		[]string{"kind"},
	)

	tokensVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_tokens_verified_total",
			Help: "Ledger token verifications, by process kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_logins_total",
			Help: "Login attempts, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
)

// Every kind exports a zero series before its first token is issued.
func init() {
	for _, k := range domain.AllKinds {
		tokensIssued.WithLabelValues(string(k))
	}
}

func kindLabel(kinds []string) string {
	if len(kinds) == 1 {
		return kinds[0]
	}
	return "any"
}
