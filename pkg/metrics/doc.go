/*
Package metrics provides Prometheus instrumentation for Medlock.

All collectors are package-level variables registered in init() and
exposed through the standard promhttp handler at /metrics. The
package also hosts the component health registry backing /health and
/ready.

# Collectors

Broker counters (incremented at decision time):

  - medlock_access_requests_total{status}: one increment per access
    request, labeled with the audit status it produced
    (GRANTED_REWRAP, DENIED_POLICY, DENIED_REVOKED, DENIED_ROLE,
    DENIED_AUTH, INVALID_REQUEST)
  - medlock_revocations_total{kind}: user or blanket
  - medlock_uploads_total
  - medlock_key_operations_total{op}: wrap, unwrap, generate
  - medlock_rewrap_duration_seconds: unwrap-to-rewrap latency on the
    granted path

Audit counters:

  - medlock_audit_records_total{action}
  - medlock_audit_append_failures_total: every increment here is an
    incident; appends must not fail

Inventory gauges (refreshed every 15s by the Collector):

  - medlock_users_total{role}
  - medlock_objects_total
  - medlock_sessions_active

API metrics:

  - medlock_http_requests_total{path,method,code}
  - medlock_http_request_duration_seconds{path}

# Usage

Incrementing from the broker:

	metrics.AccessRequestsTotal.WithLabelValues(string(status)).Inc()

Timing a request:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HTTPRequestDuration, path)

Running the inventory collector (the broker implements Stats):

	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()

# Health Registry

Components report their state through RegisterComponent /
UpdateComponent: the identity, audit and keystore packages register
themselves when their stores open, and the audit log flips its
component on append failures. GetReadiness gates on the critical set
(identity, keystore, audit): the broker must not serve access
requests unless all three are available, because a failing audit log
forces fail-closed denials anyway.

	metrics.RegisterComponent("audit", true, "audit log open")
	metrics.SetVersion(version)
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())

# Cardinality

Label values are drawn from closed enums (audit statuses, roles,
route patterns); no user-supplied strings ever become label values.

# Integration Points

  - pkg/broker: access/revocation counters, rewrap timing, Stats impl
  - pkg/audit: record and failure counters, audit component health
  - pkg/identity, pkg/keystore: component registration at open
  - pkg/api: HTTP metrics middleware, /metrics /health /ready routes
  - cmd/medlock: starts the Collector alongside the server
*/
package metrics
