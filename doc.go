// Package healthbridge provides a unified wearable/health-data subsystem:
// a provider-abstraction layer that normalizes, caches, and recovers from
// failures when reading biometric data from heterogeneous, unreliable native
// health platforms, plus a real-time anomaly monitor and an adaptive
// background sync loop built on top of it.
//
// # Architecture
//
// Callers talk to one facade; everything below it is replaceable:
//
//	┌──────────────────────────────────────┐
//	│        Health Data Facade            │  init state machine,
//	│           (healthdata)               │  permission dedup
//	└──────────────────────────────────────┘
//	           ↓ delegates to
//	┌──────────────────────────────────────┐
//	│        Provider Manager              │  priority fallback,
//	│            (manager)                 │  retry, device tiers
//	└──────────────────────────────────────┘
//	     ↓ orchestrates            ↓ caches via
//	┌──────────────────┐   ┌──────────────────┐
//	│ Platform Adapters│   │  Two-Tier Cache  │  memory + durable KV,
//	│ (provider/...)   │   │   (datacache)    │  TTL by data semantics
//	└──────────────────┘   └──────────────────┘
//	     ↓ wraps
//	┌──────────────────┐
//	│  Native Bridges  │  HealthKit, Health Connect,
//	│ (platform builds)│  null bridge elsewhere
//	└──────────────────┘
//
// Alongside the read path:
//
//   - monitor: 30s poll loop detecting threshold and statistical anomalies,
//     with severity escalation through local notifications and NATS events
//   - recovery: per-service circuit breakers with cache/offline/degraded
//     fallback strategies, never fabricating data
//   - syncer: background sync whose interval adapts to failure rate,
//     staleness, and time of day
//
// # Package Layout
//
// Core read path:
//   - healthdata: subsystem facade and initialization state machine
//   - manager: provider orchestration, retry/fallback, response caching
//   - provider: adapter contract, connection state, rate limits, quirks
//   - provider/healthkit, provider/healthconnect: platform specifics
//   - normalize: raw record validation, scoring, and canonicalization
//   - datacache: two-tier TTL cache with content checksums
//
// Supporting services:
//   - recovery: circuit breakers and recovery strategies
//   - monitor: real-time anomaly detection and alerting
//   - syncer: adaptive background sync and batch upload
//   - storage: durable key-value tier (memory, NATS JetStream KV)
//   - notify: local notification scheduler and escalation events
//   - telemetry: fire-and-forget error sink
//   - health: per-service health status aggregation
//   - lifecycle: app foreground/background signal
//
// Infrastructure:
//   - config: YAML configuration with defaults and validation
//   - errors: error classification shared by adapters and orchestrator
//   - metric: Prometheus registry and metrics server
//   - types: canonical data model
//   - pkg/buffer, pkg/cache, pkg/retry, pkg/timestamp, pkg/worker: utilities
//
// # Design Principles
//
// No synthetic data: when every provider fails and no cache entry is usable,
// callers get an explicit empty result, never fabricated readings.
//
// Errors never escape unclassified: every bridge call is wrapped into a
// typed failure, and retry decisions are a pure function of the class.
//
// Explicit construction: every service is built with its dependencies
// passed in, so tests instantiate isolated instances instead of sharing
// global state.
//
// # Binary
//
// Run the daemon:
//
//	# Built-in defaults, text logs, metrics on :9090
//	./bin/healthbridge
//
//	# Custom config with the durable NATS tier enabled
//	./bin/healthbridge --config /etc/healthbridge/config.yaml
package healthbridge
