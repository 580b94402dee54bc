package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Identity, presence and routing metrics
var (
	IdentityTokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_tokens_issued_total",
		Help: "Total number of principal tokens issued",
	}, []string{"kind"}) // "anonymous", "named"

	IdentityTokenRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_token_rejected_total",
		Help: "Total number of rejected bearer tokens",
	}, []string{"reason"})

	IdentityTokensRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_tokens_revoked_total",
		Help: "Total number of tokens added to the revocation list",
	})

	PresenceHeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_heartbeats_total",
		Help: "Total number of presence heartbeats",
	})

	RoutingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_decisions_total",
		Help: "Total number of staff routing decisions",
	}, []string{"role", "result"}) // result: "matched", "fallback", "none"

	RosterCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_roster_cache_lookups_total",
		Help: "Total number of roster lookups served by the routing cache",
	}, []string{"result"}) // result: "hit", "miss"
)
