package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/audit"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/config"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/hts"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/mirror"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/store/pgstore"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/store/redisstore"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/store/sqlitestore"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/redis/go-redis/v9"
)

// ledger is everything a command needs to run engine operations.
type ledger struct {
	engine    *vesting.Engine
	htsClient *hts.Client
}

// openLedger wires the store, the HTS backend and the audit sinks into an
// engine. Resources are released by app.close.
func (app *application) openLedger(ctx context.Context) (*ledger, error) {
	store, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}

	result := &ledger{}
	backend := app.backend
	if backend == nil && app.cfg.HasOperator() && strings.TrimSpace(app.cfg.Token.TokenID) != "" {
		htsClient, err := hts.NewClient(hts.ClientConfig{
			OperatorAccountID:  app.cfg.Operator.AccountID,
			OperatorPrivateKey: app.cfg.Operator.PrivateKey,
			Network:            app.cfg.Network,
			TokenID:            app.cfg.Token.TokenID,
			VaultAccountID:     app.cfg.VaultAccountID(),
			MirrorBaseURL:      app.cfg.Mirror.BaseURL,
			MirrorAPIKey:       app.cfg.Mirror.APIKey,
			Logger:             app.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create HTS client: %w", err)
		}
		app.shutdown = append(app.shutdown, func(context.Context) error { return htsClient.Close() })
		result.htsClient = htsClient
		backend = htsClient
	}

	sinks := vesting.MultiSink{audit.LogSink(app.logger)}
	if topicID := strings.TrimSpace(app.cfg.Audit.TopicID); topicID != "" {
		if result.htsClient == nil {
			return nil, fmt.Errorf("audit.topic_id requires operator credentials and token.token_id")
		}
		publisher, err := app.newAuditPublisher(result.htsClient, topicID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}

	engine, err := vesting.NewEngine(vesting.EngineConfig{
		Store:             store,
		Backend:           backend,
		Clock:             app.clock,
		Events:            sinks,
		Logger:            app.logger,
		VaultAccountID:    app.cfg.VaultAccountID(),
		RecoveryAccountID: app.cfg.Token.RecoveryAccountID,
	})
	if err != nil {
		return nil, err
	}
	result.engine = engine
	return result, nil
}

func (app *application) newAuditPublisher(htsClient *hts.Client, topicID string) (*audit.Publisher, error) {
	var signer *audit.Signer
	if key := strings.TrimSpace(app.cfg.Audit.SignerKey); key != "" {
		parsed, err := audit.NewSigner(key)
		if err != nil {
			return nil, fmt.Errorf("invalid audit signer key: %w", err)
		}
		signer = parsed
	}
	return audit.NewPublisher(audit.PublisherConfig{
		Submitter: audit.NewHederaSubmitter(htsClient.HederaClient()),
		TopicID:   topicID,
		Signer:    signer,
		Compress:  app.cfg.Audit.Compress,
		Logger:    app.logger,
	})
}

func (app *application) openStore(ctx context.Context) (vesting.Store, error) {
	storeConfig := app.cfg.Store
	switch storeConfig.Driver {
	case config.StoreMemory:
		app.logger.Warn("using the in-memory store; the ledger is lost when the process exits")
		return vesting.NewMemoryStore(), nil

	case config.StoreSQLite:
		store, err := sqlitestore.Open(ctx, storeConfig.SQLitePath)
		if err != nil {
			return nil, err
		}
		app.shutdown = append(app.shutdown, func(context.Context) error { return store.Close() })
		return store, nil

	case config.StorePostgres:
		store, err := pgstore.Connect(ctx, pgstore.Options{DSN: storeConfig.PostgresDSN})
		if err != nil {
			return nil, err
		}
		app.shutdown = append(app.shutdown, func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.StoreRedis:
		options, err := redis.ParseURL(storeConfig.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		client := redis.NewClient(options)
		app.shutdown = append(app.shutdown, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return redisstore.New(redisstore.Options{
			Client:      client,
			Prefix:      storeConfig.RedisPrefix,
			LockTTL:     storeConfig.LockTTL,
			LockTimeout: storeConfig.LockTimeout,
		})
	}
	return nil, fmt.Errorf("unsupported store driver %q", storeConfig.Driver)
}

func (app *application) newMirrorClient() (*mirror.Client, error) {
	return mirror.NewClient(mirror.Config{
		Network: app.cfg.Network,
		BaseURL: app.cfg.Mirror.BaseURL,
		APIKey:  app.cfg.Mirror.APIKey,
	})
}

// callerID resolves the acting account for the current command.
func (app *application) callerID() (string, error) {
	if caller := strings.TrimSpace(app.caller); caller != "" {
		return caller, nil
	}
	if operator := strings.TrimSpace(app.cfg.Operator.AccountID); operator != "" {
		return operator, nil
	}
	return "", fmt.Errorf("no caller: pass --as or configure operator.account_id")
}
