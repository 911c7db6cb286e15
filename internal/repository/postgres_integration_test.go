//go:build integration

package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/harrier/internal/domain"
)

// startPostgres runs a throwaway PostgreSQL and returns its repository config.
func startPostgres(t *testing.T) domain.RepositoryConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "harrier",
			"POSTGRES_PASSWORD": "harrier",
			"POSTGRES_DB":       "harrier_test",
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
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	return domain.RepositoryConfig{
		PostgresHost:     host,
		PostgresPort:     portNum,
		PostgresUser:     "harrier",
		PostgresPassword: "harrier",
		PostgresDB:       "harrier_test",
		PostgresSSLMode:  "disable",
	}
}

func TestPostgresDrivers(t *testing.T) {
	base := startPostgres(t)

	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			cfg := base
			cfg.Driver = driver

			repo, err := New(cfg)
			if err != nil {
				t.Fatalf("failed to create repository: %v", err)
			}
			defer repo.Close()

			ctx := context.Background()
			suffix := "-" + driver

			if err := repo.SaveProduct(ctx, &domain.Product{ID: "p-debit" + suffix, Type: "DEBIT", Name: "Debit"}); err != nil {
				t.Fatalf("SaveProduct failed: %v", err)
			}
			for _, amt := range []string{"100.10", "200.20"} {
				tx := &domain.Transaction{
					ProductID:  "p-debit" + suffix,
					CustomerID: "alice" + suffix,
					Type:       "DEPOSIT",
					Amount:     decimal.RequireFromString(amt),
				}
				if err := repo.SaveTransaction(ctx, tx); err != nil {
					t.Fatalf("SaveTransaction failed: %v", err)
				}
			}

			sum, err := repo.SumAmount(ctx, "alice"+suffix, "DEBIT", "DEPOSIT")
			if err != nil {
				t.Fatalf("SumAmount failed: %v", err)
			}
			if !sum.Equal(decimal.RequireFromString("300.30")) {
				t.Errorf("expected 300.30, got %s", sum)
			}

			stats, err := repo.TransactionStats(ctx, "alice"+suffix, "")
			if err != nil {
				t.Fatalf("TransactionStats failed: %v", err)
			}
			if stats.TransactionCount != 2 || stats.UniqueProducts != 1 {
				t.Errorf("unexpected stats: %+v", stats)
			}

			rule := &domain.Rule{
				Name:        "Debit holders" + suffix,
				ProductType: "SAVING",
				Condition:   domain.HasProduct{ProductType: "DEBIT"},
				Active:      true,
			}
			if err := repo.CreateRule(ctx, rule); err != nil {
				t.Fatalf("CreateRule failed: %v", err)
			}
			got, err := repo.GetRule(ctx, rule.ID)
			if err != nil {
				t.Fatalf("GetRule failed: %v", err)
			}
			if _, ok := got.Condition.(domain.HasProduct); !ok {
				t.Errorf("expected HasProduct, got %T", got.Condition)
			}

			if err := repo.RecordExecution(ctx, &domain.ExecutionLogEntry{
				RuleID: rule.ID, CustomerID: "alice" + suffix, Eligible: true,
			}); err != nil {
				t.Fatalf("RecordExecution failed: %v", err)
			}
			n, err := repo.CountEligibleCustomersByRule(ctx, rule.ID)
			if err != nil || n != 1 {
				t.Errorf("CountEligibleCustomersByRule = %d (err %v), want 1", n, err)
			}

			if err := repo.DeleteRule(ctx, "missing"+suffix); !errors.Is(err, domain.ErrRuleNotFound) {
				t.Errorf("expected ErrRuleNotFound, got: %v", err)
			}
		})
	}
}
