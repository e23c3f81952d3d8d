package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/migrations"
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/database"
	"github.com/ekaya-inc/ekaya-ask/pkg/graph"
	"github.com/ekaya-inc/ekaya-ask/pkg/handlers"
	"github.com/ekaya-inc/ekaya-ask/pkg/license"
	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/ontology"
	"github.com/ekaya-inc/ekaya-ask/pkg/repositories"
	"github.com/ekaya-inc/ekaya-ask/pkg/schema"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

const neo4jSyncTimeout = 30 * time.Second

// app holds every wired component. Optional stores are nil when not configured.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	schemas  *schema.Cache
	ontology *ontology.Store
	metrics  *metrics.Metrics
	history  services.QueryHistoryService
	ask      services.AskService

	provider datasource.SchemaProvider
	executor datasource.QueryExecutor
	db       *database.DB
	redis    *redis.Client
	neo4j    neo4j.DriverWithContext

	// healthChecks ping each configured backing store.
	healthChecks map[string]handlers.HealthCheck
}

// buildApp connects to the datasource and the optional stores and wires the
// ask pipeline. The caller must Close the returned app.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics.New(),
		healthChecks: map[string]handlers.HealthCheck{},
	}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	factory := datasource.NewAdapterFactory(datasource.Options{StatementTimeout: cfg.Query.StatementTimeout}, logger)
	dsConfig := cfg.Datasource.AdapterConfig()
	var err error
	if a.provider, err = factory.NewSchemaProvider(ctx, cfg.Datasource.Type, dsConfig); err != nil {
		return nil, fmt.Errorf("create schema provider: %w", err)
	}
	if a.executor, err = factory.NewQueryExecutor(ctx, cfg.Datasource.Type, dsConfig); err != nil {
		return nil, fmt.Errorf("create query executor: %w", err)
	}
	a.healthChecks["datasource"] = func(ctx context.Context) error {
		_, err := a.executor.Query(ctx, "SELECT 1 AS ok", 1)
		return err
	}

	a.schemas = schema.NewCache(a.provider, logger)
	a.ontology = ontology.NewStore(ontology.StoreOptions{
		Enabled:           cfg.Ontology.Enabled,
		DynamicGeneration: cfg.Ontology.DynamicGeneration,
	}, logger)
	if cfg.Ontology.Enabled && cfg.Ontology.Path != "" {
		if err = a.ontology.Load(cfg.Ontology.Path); err != nil {
			return nil, err
		}
	}
	a.schemas.OnRefresh(func(snap *models.SchemaSnapshot) {
		a.ontology.Invalidate(snap.Name)
	})

	repo, err := a.historyRepository(ctx)
	if err != nil {
		return nil, err
	}
	if repo != nil {
		a.history = services.NewQueryHistoryService(repo, logger)
	}

	relationships, err := a.graphProvider(ctx)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClientFromConfig(&llm.Config{
		Provider:  cfg.LLM.Provider,
		Endpoint:  cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	generator := services.NewSQLGenerator(client, services.SQLGeneratorConfig{
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	driver := services.NewRetryDriver(
		generator,
		a.executor,
		services.NewContextBuilder(cfg.Query.TokenBudget, logger),
		license.NewGate(cfg.License, logger),
		cfg.Query.RowLimit,
		logger,
	)

	deps := services.AskDeps{
		Schemas:  a.schemas,
		Ontology: a.ontology,
		Resolver: ontology.NewResolver(cfg.Ontology.ConfidenceThreshold, logger),
		Driver:   driver,
		Graph:    relationships,
		History:  a.history,
		Metrics:  a.metrics,
	}
	a.ask = services.NewAskService(deps, services.AskConfig{
		DefaultSchema:        cfg.Datasource.DefaultSchema,
		MaxRetries:           cfg.Query.MaxRetries,
		HistoryTopK:          cfg.Query.HistoryTopK,
		MaxRelationshipDepth: cfg.Ontology.MaxRelationshipDepth,
	}, logger)

	built = true
	return a, nil
}

// historyRepository prefers Redis, then the metadata PostgreSQL. Neither
// configured means similar-question retrieval is off.
func (a *app) historyRepository(ctx context.Context) (repositories.QueryHistoryRepository, error) {
	cfg := a.cfg
	if cfg.Redis.Host != "" {
		client, err := database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.healthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		a.logger.Info("Query history stored in Redis", zap.String("host", cfg.Redis.Host))
		return repositories.NewRedisHistoryStore(client, cfg.Redis.MaxEntries), nil
	}

	if cfg.Database.Enabled() {
		db, err := a.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(db.StdDB(), migrations.FS, a.logger); err != nil {
			return nil, err
		}
		a.logger.Info("Query history stored in PostgreSQL", zap.String("host", cfg.Database.Host))
		return repositories.NewQueryHistoryRepository(db), nil
	}

	a.logger.Info("No history store configured; similar-question examples are disabled")
	return nil, nil
}

func (a *app) openDatabase(ctx context.Context) (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            a.cfg.Database.ConnectionString(),
		MaxConnections: a.cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w",
			logging.SanitizeConnectionString(a.cfg.Database.ConnectionString()), err)
	}
	a.db = db
	a.healthChecks["database"] = func(ctx context.Context) error { return db.Ping(ctx) }
	return db, nil
}

// graphProvider uses Neo4j when configured and always falls back to the
// snapshot's foreign keys.
func (a *app) graphProvider(ctx context.Context) (graph.Provider, error) {
	fk := graph.NewForeignKeyProvider()
	if a.cfg.Neo4j.URI == "" {
		return fk, nil
	}

	driver, err := database.NewNeo4jDriver(ctx, &a.cfg.Neo4j)
	if err != nil {
		return nil, err
	}
	a.neo4j = driver
	a.healthChecks["neo4j"] = driver.VerifyConnectivity

	provider := graph.NewNeo4jProvider(driver, a.cfg.Neo4j.Database, a.logger)
	a.schemas.OnRefresh(func(snap *models.SchemaSnapshot) {
		sctx, cancel := context.WithTimeout(context.Background(), neo4jSyncTimeout)
		defer cancel()
		if err := provider.Sync(sctx, snap); err != nil {
			a.logger.Warn("Failed to sync schema graph to Neo4j",
				zap.String("schema", snap.Name), zap.Error(err))
		}
	})
	return graph.NewFallback(provider, fk, a.logger), nil
}

// Close releases every connection the app opened.
func (a *app) Close() {
	var errs []error
	if a.executor != nil {
		errs = append(errs, a.executor.Close())
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.neo4j != nil {
		errs = append(errs, a.neo4j.Close(context.Background()))
	}
	if a.db != nil {
		a.db.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Errors while closing connections", zap.Error(err))
	}
}
