package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"crossrail/internal/custody"
	"crossrail/internal/database"
	"crossrail/internal/journal"
	"crossrail/internal/kyc"
	"crossrail/internal/models"
	"crossrail/internal/notify"
	"crossrail/internal/partner"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

type Services struct {
	DbService *database.Service
	Registry  *NetworkRegistry
	Custody   custody.Service
	Partner   *partner.Client
	KYC       *kyc.Client
	Notifier  notify.Notifier
	Journal   *journal.Journal
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry, err := LoadNetworkRegistry(cfg.Chain.RegistryFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		dbService.Close()
		return nil, err
	}

	custodyService, err := custody.NewPrimeService(ctx, creds)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notify.GatewayURL != "" {
		notifier = notify.NewGatewayNotifier(cfg.Notify.GatewayURL, cfg.Notify.APIKey)
	}

	settlementJournal, err := journal.NewJournal(ctx, cfg.Journal)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService: dbService,
		Registry:  registry,
		Custody:   custodyService,
		Partner:   partner.NewClient(cfg.Partner.BaseURL, cfg.Partner.APIKey),
		KYC:       kyc.NewClient(cfg.KYC.BaseURL, cfg.KYC.APIKey),
		Notifier:  notifier,
		Journal:   settlementJournal,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like inspecting transactions.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
