//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"oximetry-sync/internal/adapter/influx"
	msql "oximetry-sync/internal/adapter/mysql"
	"oximetry-sync/internal/credentials"
	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/migrate"
	"oximetry-sync/internal/ports"
	"oximetry-sync/internal/usecase"
)

type fakeDrive struct{ ms []domain.Measurement }

func (f fakeDrive) Fetch(ctx context.Context, creds *domain.DriveCredentials, since *time.Time) ([]domain.Measurement, error) {
	var out []domain.Measurement
	for _, m := range f.ms {
		if since == nil || m.Time.After(*since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func readings(t *testing.T) []domain.Measurement {
	t.Helper()
	start := time.Date(2025, 8, 1, 23, 0, 0, 0, time.UTC)
	var out []domain.Measurement
	for i := 0; i < 3; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		spo2, err := domain.NewSpO2(ts, float64(95+i), domain.SourceEMAY)
		if err != nil {
			t.Fatal(err)
		}
		pulse, err := domain.NewPulse(ts, 60+i, domain.SourceEMAY)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, spo2, pulse)
	}
	return out
}

func driveCreds(t *testing.T) ports.CredentialStore {
	t.Helper()
	f := credentials.NewFile(filepath.Join(t.TempDir(), "google.json"))
	if err := f.Save(&domain.DriveCredentials{AccessToken: "ya29", RefreshToken: "1//r"}); err != nil {
		t.Fatal(err)
	}
	return f
}

// runTwice syncs the same upstream data twice and checks that the watermark does not move.
func runTwice(t *testing.T, ctx context.Context, store ports.MeasurementStore, logger *slog.Logger) time.Time {
	t.Helper()
	data := readings(t)
	uc := &usecase.SyncUseCase{Log: logger, Sources: []usecase.Source{
		&usecase.DriveSync{Source: fakeDrive{ms: data}, Store: store, Creds: driveCreds(t)},
	}}
	if err := uc.Run(ctx); err != nil {
		t.Fatalf("sync run: %v", err)
	}
	first, ok, err := store.LatestTimestamp(ctx, domain.MetricSpO2, domain.SourceEMAY)
	if err != nil || !ok {
		t.Fatalf("latest timestamp: ok=%v err=%v", ok, err)
	}
	want := data[len(data)-1].Time
	if !first.Equal(want) {
		t.Fatalf("expected watermark %s, got %s", want, first)
	}

	if err := uc.Run(ctx); err != nil {
		t.Fatalf("sync run 2: %v", err)
	}
	second, _, err := store.LatestTimestamp(ctx, domain.MetricSpO2, domain.SourceEMAY)
	if err != nil {
		t.Fatalf("latest timestamp 2: %v", err)
	}
	if !second.Equal(first) {
		t.Fatalf("watermark moved from %s to %s", first, second)
	}
	return first
}

func TestSyncToMySQL_IsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	// Start MySQL container
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      "testdb",
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_USER":          "test",
			"MYSQL_PASSWORD":      "pass",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}
	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	t.Cleanup(func() { _ = mysqlC.Terminate(context.Background()) })

	host, err := mysqlC.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := mysqlC.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true", "test", "pass", host, port.Port(), "testdb")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := migrate.Run(ctx, dsn, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := msql.NewStore(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("mysql store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runTwice(t, ctx, store, logger)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM oximetry_measurements").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 6 {
		t.Fatalf("expected 6 rows, got %d", count)
	}
}

func TestSyncToInfluxDB_IsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	const token = "e2e-admin-token"
	req := testcontainers.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "admin",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "password123",
			"DOCKER_INFLUXDB_INIT_ORG":         "sleepy",
			"DOCKER_INFLUXDB_INIT_BUCKET":      "sleepy",
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": token,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(90 * time.Second),
	}
	influxC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start influxdb container: %v", err)
	}
	t.Cleanup(func() { _ = influxC.Terminate(context.Background()) })

	host, err := influxC.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := influxC.MappedPort(ctx, "8086/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	// Setup mode finishes shortly after /health turns green.
	var store *influx.Store
	for i := 0; i < 10; i++ {
		store, err = influx.NewStore(ctx, fmt.Sprintf("http://%s:%s", host, port.Port()), token, "sleepy", "sleepy", logger)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("influx store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, ok, err := store.LatestTimestamp(ctx, domain.MetricSpO2, domain.SourceEMAY); err != nil || ok {
		t.Fatalf("expected empty bucket: ok=%v err=%v", ok, err)
	}
	runTwice(t, ctx, store, logger)
}
