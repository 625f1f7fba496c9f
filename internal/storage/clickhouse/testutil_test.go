package clickhouse

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// One container serves the whole package; setupTestDB truncates between tests.
var (
	testConn *Conn
	setupErr error
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, conn, err := startClickHouse(ctx)
	if err != nil {
		setupErr = err
	}
	testConn = conn

	code := m.Run()

	if conn != nil {
		conn.Close()
	}
	if container != nil {
		if err := testcontainers.TerminateContainer(container); err != nil {
			log.Printf("terminate clickhouse container: %v", err)
		}
	}
	os.Exit(code)
}

func startClickHouse(ctx context.Context) (testcontainers.Container, *Conn, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "walkforward_test",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(90*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		return container, nil, fmt.Errorf("start clickhouse container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "clickhouse")
	if err != nil {
		return container, nil, fmt.Errorf("clickhouse endpoint: %w", err)
	}

	conn, err := NewConn(ctx, endpoint+"/walkforward_test")
	if err != nil {
		return container, nil, err
	}
	if err := applyMigrations(ctx, conn); err != nil {
		conn.Close()
		return container, nil, err
	}
	return container, conn, nil
}

// applyMigrations runs internal/storage/migrations/clickhouse/*.sql.
// Each file holds exactly one statement.
func applyMigrations(ctx context.Context, conn *Conn) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("go.mod not found above working directory")
		}
		dir = parent
	}

	files, err := filepath.Glob(filepath.Join(dir, "internal", "storage", "migrations", "clickhouse", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		stmt := strings.TrimSuffix(strings.TrimSpace(string(content)), ";")
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

// setupTestDB returns the shared connection. The cleanup empties every table.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if setupErr != nil {
		t.Skipf("clickhouse container unavailable: %v", setupErr)
	}

	cleanup := func() {
		ctx := context.Background()
		for _, table := range []string{"predictions", "equity_curve"} {
			require.NoError(t, testConn.Exec(ctx, "TRUNCATE TABLE "+table), "truncate %s", table)
		}
	}
	return testConn, cleanup
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
