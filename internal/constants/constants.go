package constants

import "time"

const (
	AppName = "nudge"
	Version = "0.3.1"
)

// Network defaults
const (
	DefaultRelayHost  = "127.0.0.1"
	DefaultRelayPort  = 4000
	DefaultBindHost   = "0.0.0.0"
	DefaultChunkSize  = 1024
	MaxChunkSize      = 65000 // stays under the 65507 byte UDP payload limit with the frame header
	ControlBufferSize = 4096
	ControlTimeout    = 5 * time.Second
	ConfirmGrace      = 250 * time.Millisecond
	DefaultDelay      = 500 // microseconds between data frames
	SocketBufferSize  = 4 << 20
)

// Session settings
const (
	SessionTTL          = time.Hour
	CleanupInterval     = 30 * time.Second
	PassphraseWords     = 3
	PassphraseSeparator = "-"
	MaxGenerateAttempts = 16
	RedisKeyPrefix      = "nudge:transfer:"
)

// Transport
const (
	InitialRTO  = 500 * time.Millisecond
	MinRTO      = 50 * time.Millisecond
	MaxRTO      = 5 * time.Second
	MaxRetries  = 8
	IdleTimeout = 30 * time.Second
	LingerTime  = 2 * time.Second
)

// Brute force protection
const (
	MaxFailedAttempts = 5
	BlockDuration     = 15 * time.Minute
	MaxEventClients   = 4
)

// Audit
const (
	MaxAuditLogsPerMinute = 600
	MinDiskSpaceRequired  = 100 * 1024 * 1024 // 100MB
)

// Status endpoints
const (
	EndpointHealth   = "/healthz"
	EndpointStats    = "/stats"
	EndpointEvents   = "/ws/events"
	EndpointEventLog = "/api/events"
	MaxRecentEvents  = 200
	ShutdownTimeout  = 5 * time.Second
)

// LAN discovery
const (
	ServiceType    = "_nudge._udp"
	ServiceDomain  = "local."
	DiscoverWindow = 3 * time.Second
)

// Terminal colors (lipgloss ANSI indexes)
const (
	ColorDim    = "8"
	ColorCyan   = "6"
	ColorGreen  = "2"
	ColorYellow = "3"
	ColorRed    = "1"
	ColorPurple = "5"
)
