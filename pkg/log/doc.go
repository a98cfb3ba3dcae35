/*
Package log provides structured logging for Medlock using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Architecture

One global logger is configured at process start and shared by every
component:

	┌────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                      │
	│  ┌─────────────────────────────────────────┐        │
	│  │            Global Logger                │        │
	│  │  - Zerolog instance                     │        │
	│  │  - Initialized via log.Init()           │        │
	│  │  - Thread-safe for concurrent use       │        │
	│  └──────────────────┬──────────────────────┘        │
	│                     │                                │
	│  ┌──────────────────▼──────────────────────┐        │
	│  │           Configuration                 │        │
	│  │  - Level: debug/info/warn/error         │        │
	│  │  - Format: JSON or console (human)      │        │
	│  │  - Output: stdout, file, custom writer  │        │
	│  └──────────────────┬──────────────────────┘        │
	│                     │                                │
	│  ┌──────────────────▼──────────────────────┐        │
	│  │         Component Loggers               │        │
	│  │  - WithComponent("broker")              │        │
	│  │  - WithUser("c2f0…")                    │        │
	│  │  - WithObject("report-2024")            │        │
	│  └──────────────────┬──────────────────────┘        │
	│                     │                                │
	│  ┌──────────────────▼──────────────────────┐        │
	│  │            Log Output                   │        │
	│  │  {"level":"warn","component":"broker",  │        │
	│  │   "user":"c2f0…","object":"report-2024",│        │
	│  │   "status":"DENIED_POLICY",             │        │
	│  │   "message":"access denied"}            │        │
	│  └─────────────────────────────────────────┘        │
	└──────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Medlock packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: detailed debugging information
  - Info: general informational messages (grants, startup)
  - Warn: denials and unexpected conditions
  - Error: operation failures (audit append, key load)
  - Fatal: critical errors (process exits)

Context Loggers:
  - WithComponent: add component name to all logs
  - WithUser: add user id context
  - WithObject: add object name context

# Usage

Initializing the logger:

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Component logger held by a long-lived struct:

	logger := log.WithComponent("broker")
	logger.Warn().
		Str("user", caller.ID).
		Str("object", name).
		Str("status", "DENIED_REVOKED").
		Msg("access denied")

Quick helpers:

	log.Info("server started")
	log.Errorf("failed to open audit log", err)

# Logging Conventions

Component names used across the codebase: api, broker, audit,
identity, keystore, meta, blobstore, session.

Security conventions:
  - Every broker denial logs at Warn with user, object, status fields
  - Grants log at Info with the same fields
  - Audit append failures and chain breaks log at Error
  - Key material, wrapped key blobs, and passwords are never logged

The structured log is operational telemetry. The durable record of
access decisions is the hash-chained audit log (pkg/audit); a log
line here is never a substitute for an audit record there.

# Integration Points

This package integrates with:

  - cmd/medlock: configures level and format from config/flags
  - pkg/api: request logging middleware
  - pkg/broker: state machine outcome logging
  - pkg/audit: verification failure reporting

# See Also

  - pkg/audit for the tamper-evident decision record
  - pkg/config for the LogLevel / LogPretty settings
*/
package log
