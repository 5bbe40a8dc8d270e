package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Chain      ChainConfig
	Reconciler ReconcilerConfig
	Offramp    OfframpConfig
	Session    SessionConfig
	Partner    PartnerConfig
	KYC        KYCConfig
	Notify     NotifyConfig
	Journal    JournalConfig
	Metrics    MetricsConfig
	Retry      RetryConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ChainConfig holds chain event source settings.
type ChainConfig struct {
	RegistryFile  string
	ReplayOnStart bool
	ReplayBatch   int
	ReconnectBase time.Duration
	HeaderTimeout time.Duration
	IntakeBuffer  int
}

// ReconcilerConfig holds ledger reconciler settings.
type ReconcilerConfig struct {
	NotifyChannel string
}

// OfframpConfig holds off-ramp orchestrator settings.
type OfframpConfig struct {
	KYCGateEnabled bool
	StageTimeout   time.Duration
	PollInterval   time.Duration
	PollBatch      int
}

// SessionConfig holds off-ramp session store settings.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// PartnerConfig holds liquidity partner API settings.
type PartnerConfig struct {
	BaseURL string
	APIKey  string
}

// KYCConfig holds KYC provider settings.
type KYCConfig struct {
	BaseURL string
	APIKey  string
}

// NotifyConfig holds notification gateway settings.
type NotifyConfig struct {
	GatewayURL string
	APIKey     string
}

// JournalConfig holds the optional Formance settlement journal settings.
type JournalConfig struct {
	Enabled      bool
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	ListenAddr string
}

// RetryConfig parameterizes the shared retry policy for remote calls.
type RetryConfig struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}
