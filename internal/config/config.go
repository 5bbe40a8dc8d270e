/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"crossrail/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	reconnectBase, err := getEnvDuration("CHAIN_RECONNECT_BASE", 2*time.Second)
	if err != nil {
		return nil, err
	}

	headerTimeout, err := getEnvDuration("CHAIN_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	stageTimeout, err := getEnvDuration("OFFRAMP_STAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvDuration("OFFRAMP_POLL_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := getEnvDuration("SESSION_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	retryBaseDelay, err := getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	retryMaxDelay, err := getEnvDuration("RETRY_MAX_DELAY", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "crossrail.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Chain: models.ChainConfig{
			RegistryFile:  getEnvString("NETWORKS_FILE", "networks.yaml"),
			ReplayOnStart: getEnvBool("CHAIN_REPLAY_ON_START", true),
			ReplayBatch:   getEnvInt("CHAIN_REPLAY_BATCH", 100),
			ReconnectBase: reconnectBase,
			HeaderTimeout: headerTimeout,
			IntakeBuffer:  getEnvInt("CHAIN_INTAKE_BUFFER", 256),
		},
		Reconciler: models.ReconcilerConfig{
			NotifyChannel: getEnvString("NOTIFY_CHANNEL", "push"),
		},
		Offramp: models.OfframpConfig{
			KYCGateEnabled: getEnvBool("KYC_GATE_ENABLED", true),
			StageTimeout:   stageTimeout,
			PollInterval:   pollInterval,
			PollBatch:      getEnvInt("OFFRAMP_POLL_BATCH", 50),
		},
		Session: models.SessionConfig{
			TTL:           sessionTTL,
			SweepInterval: sweepInterval,
		},
		Partner: models.PartnerConfig{
			BaseURL: getEnvString("PARTNER_BASE_URL", ""),
			APIKey:  getEnvString("PARTNER_API_KEY", ""),
		},
		KYC: models.KYCConfig{
			BaseURL: getEnvString("KYC_BASE_URL", ""),
			APIKey:  getEnvString("KYC_API_KEY", ""),
		},
		Notify: models.NotifyConfig{
			GatewayURL: getEnvString("NOTIFY_GATEWAY_URL", ""),
			APIKey:     getEnvString("NOTIFY_API_KEY", ""),
		},
		Journal: models.JournalConfig{
			Enabled:      getEnvBool("JOURNAL_ENABLED", false),
			StackURL:     getEnvString("JOURNAL_STACK_URL", ""),
			ClientID:     getEnvString("JOURNAL_CLIENT_ID", ""),
			ClientSecret: getEnvString("JOURNAL_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("JOURNAL_LEDGER_NAME", "crossrail"),
		},
		Metrics: models.MetricsConfig{
			ListenAddr: getEnvString("METRICS_LISTEN_ADDR", ":9090"),
		},
		Retry: models.RetryConfig{
			MaxAttempts: uint64(getEnvInt("RETRY_MAX_ATTEMPTS", 3)),
			BaseDelay:   retryBaseDelay,
			MaxDelay:    retryMaxDelay,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
