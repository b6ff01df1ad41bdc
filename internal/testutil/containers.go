// Package testutil starts the backing services used by integration tests.
// Containers are removed when the test finishes.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/database"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// endpoint is a started container and where to reach its service port
type endpoint struct {
	Host string
	Port string
}

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) endpoint {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get %s port: %v", req.Image, err)
	}
	return endpoint{Host: host, Port: mapped.Port()}
}

const (
	pgUser     = "coach"
	pgPassword = "coach"
	pgDatabase = "coach"
)

// PostgresContainer is a PostgreSQL server with the pgvector extension
type PostgresContainer struct {
	endpoint
}

// NewPostgresContainer starts PostgreSQL with pgvector
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	return &PostgresContainer{endpoint: startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:0.8.1-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")}
}

// ConnectionString returns the PostgreSQL connection string
func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pgUser, pgPassword, pc.Host, pc.Port, pgDatabase)
}

// NewTestPool migrates the database with the production migrations and
// returns a pool that is closed when the test finishes
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	if err := database.Migrate(pc.ConnectionString(), migrationsDir, zap.NewNop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: pc.ConnectionString(), MaxConns: 4})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// TruncateAll empties every table between subtests
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE TABLE retrieval_documents RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("failed to truncate retrieval_documents: %w", err)
	}
	return nil
}

// S3 credentials of the RustFS container
const (
	RustFSAccessKey = "rustfsadmin"
	RustFSSecretKey = "rustfsadmin"
)

// RustFSContainer is an S3-compatible object store
type RustFSContainer struct {
	endpoint
}

// NewRustFSContainer starts RustFS
func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	return &RustFSContainer{endpoint: startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSAccessKey,
			"RUSTFS_SECRET_KEY": RustFSSecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000/tcp")}
}

// Endpoint returns the S3 endpoint URL
func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

// NATSContainer is a NATS server with JetStream enabled
type NATSContainer struct {
	endpoint
}

// NewNATSContainer starts NATS
func NewNATSContainer(ctx context.Context, t *testing.T) *NATSContainer {
	return &NATSContainer{endpoint: startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		Cmd:          []string{"-js"},
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Server is ready"),
			wait.ForListeningPort("4222/tcp"),
		).WithStartupTimeout(30 * time.Second),
	}, "4222/tcp")}
}

// URL returns the NATS client URL
func (nc *NATSContainer) URL() string {
	return fmt.Sprintf("nats://%s:%s", nc.Host, nc.Port)
}
