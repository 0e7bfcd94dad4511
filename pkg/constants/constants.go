// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Call-related constants
const (
	// DefaultMaxCallParticipants is the participant cap applied when a call
	// is created without an explicit limit
	DefaultMaxCallParticipants = 15

	// MinCallParticipants is the smallest allowed participant cap
	MinCallParticipants = 2

	// MaxCallParticipants is the largest allowed participant cap
	MaxCallParticipants = 100
)

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout is the deadline for a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketSendBufferSize is the per-connection outbound frame buffer
	WebSocketSendBufferSize = 256

	// DefaultMaxSignalingConnections caps concurrent signaling sockets
	DefaultMaxSignalingConnections = 1000
)

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)
