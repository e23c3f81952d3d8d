package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/migrations"
	"github.com/ekaya-inc/ekaya-ask/pkg/database"
)

// PostgresImage is the stock image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// salesFixture is the datasource schema integration tests ask questions against.
const salesFixture = `
CREATE TABLE vendor (
    id    SERIAL PRIMARY KEY,
    name  TEXT NOT NULL,
    city  TEXT
);
CREATE TABLE purchase_order (
    id          SERIAL PRIMARY KEY,
    vendor_id   INTEGER REFERENCES vendor(id),
    vendorgroup TEXT,
    amount      NUMERIC(12,2) NOT NULL,
    ordered_at  DATE NOT NULL DEFAULT CURRENT_DATE
);
INSERT INTO vendor (name, city) VALUES ('Acme', 'Oslo'), ('Globex', 'Lima');
INSERT INTO purchase_order (vendor_id, vendorgroup, amount) VALUES
    (1, 'Acme Group', 120.50), (1, 'Acme Group', 80.00), (2, 'Globex Holdings', 300.00);
`

// TestDB holds a shared PostgreSQL container seeded with the sales fixture.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "test_data",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/test_data?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("test database not reachable: %w", err)
	}

	if _, err := pool.Exec(ctx, salesFixture); err != nil {
		return nil, fmt.Errorf("failed to load sales fixture: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

// AdapterConfig returns the datasource adapter settings for the container.
func (db *TestDB) AdapterConfig() map[string]any {
	return map[string]any{
		"host":     db.Host,
		"port":     db.Port,
		"user":     "ekaya",
		"password": "test_password",
		"database": "test_data",
		"ssl_mode": "disable",
	}
}

// HistoryDB holds the metadata database with migrations applied.
type HistoryDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedHistoryDB     *HistoryDB
	sharedHistoryDBOnce sync.Once
	sharedHistoryDBErr  error
)

// GetHistoryDB returns a shared metadata database for integration tests.
// It lives in the same container as the sales fixture.
func GetHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()

	testDB := GetTestDB(t)

	sharedHistoryDBOnce.Do(func() {
		sharedHistoryDB, sharedHistoryDBErr = setupHistoryDB(testDB)
	})

	if sharedHistoryDBErr != nil {
		t.Fatalf("Failed to setup history database: %v", sharedHistoryDBErr)
	}

	return sharedHistoryDB
}

func setupHistoryDB(testDB *TestDB) (*HistoryDB, error) {
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            testDB.ConnStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	sqlDB := db.StdDB()
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrations.FS, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &HistoryDB{
		DB:      db,
		ConnStr: testDB.ConnStr,
	}, nil
}
