//go:build unit || e2e

package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func CreateTestTenant(t *testing.T, db DBLike, name string) uuid.UUID {
	t.Helper()

	tenantID := uuid.New()
	ctx := context.Background()

	tag, err := db.Exec(ctx, "INSERT INTO tenants (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING", tenantID, name)
	require.NoError(t, err)

	if tag.RowsAffected() == 0 {
		_ = db.QueryRow(ctx, "SELECT id FROM tenants WHERE name = $1", name).Scan(&tenantID)
	}
	return tenantID
}

func CreateTestCustomer(t *testing.T, db DBLike, tenantID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	customerID := uuid.New()
	_, err := db.Exec(context.Background(),
		"INSERT INTO customers (id, tenant_id, name) VALUES ($1, $2, $3)", customerID, tenantID, name)
	require.NoError(t, err)
	return customerID
}

func CreateTestService(t *testing.T, db DBLike, tenantID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	serviceID := uuid.New()
	_, err := db.Exec(context.Background(),
		"INSERT INTO services (id, tenant_id, name) VALUES ($1, $2, $3)", serviceID, tenantID, name)
	require.NoError(t, err)
	return serviceID
}

func CreateTestResource(t *testing.T, db DBLike, tenantID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	resourceID := uuid.New()
	_, err := db.Exec(context.Background(),
		"INSERT INTO resources (id, tenant_id, name) VALUES ($1, $2, $3)", resourceID, tenantID, name)
	require.NoError(t, err)
	return resourceID
}

func CreateTestTimeSlot(t *testing.T, db DBLike, tenantID, resourceID uuid.UUID, start time.Time, duration time.Duration, capacity int32) uuid.UUID {
	t.Helper()

	slotID := uuid.New()
	_, err := db.Exec(context.Background(),
		`INSERT INTO timeslots (id, tenant_id, resource_id, start_at, end_at, capacity, available_capacity)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		slotID, tenantID, resourceID, start, start.Add(duration), capacity)
	require.NoError(t, err)
	return slotID
}

func AvailableCapacity(t *testing.T, db DBLike, slotID uuid.UUID) int32 {
	t.Helper()

	var available int32
	err := db.QueryRow(context.Background(),
		"SELECT available_capacity FROM timeslots WHERE id = $1", slotID).Scan(&available)
	require.NoError(t, err)
	return available
}

func CountRows(t *testing.T, db DBLike, query string, args ...any) int64 {
	t.Helper()

	var count int64
	err := db.QueryRow(context.Background(), query, args...).Scan(&count)
	require.NoError(t, err)
	return count
}

// ForceExpire backdates a tentative booking so the sweep picks it up.
func ForceExpire(t *testing.T, db DBLike, bookingID uuid.UUID) {
	t.Helper()

	tag, err := db.Exec(context.Background(),
		"UPDATE bookings SET expires_at = now() - interval '1 minute' WHERE id = $1 AND status = 'tentative'", bookingID)
	require.NoError(t, err)
	require.EqualValues(t, 1, tag.RowsAffected())
}

var (
	buildTruncateOnce sync.Once
	truncateSQL       atomic.Value // string
)

// truncates all tables between subtests
func ResetDB(pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buildTruncateOnce.Do(func() {
		rows, err := pool.Query(ctx, `
		  SELECT 'public.' || quote_ident(tablename)
		  FROM pg_tables
		  WHERE schemaname = 'public'
		    AND tablename NOT IN ('schema_migrations')`)
		if err != nil {
			truncateSQL.Store("")
			return
		}
		defer rows.Close()
		var tables []string
		for rows.Next() {
			var tbl string
			if err := rows.Scan(&tbl); err != nil {
				truncateSQL.Store("")
				return
			}
			tables = append(tables, tbl)
		}
		if rows.Err() != nil {
			truncateSQL.Store("")
			return
		}
		if len(tables) == 0 {
			truncateSQL.Store("SELECT 1")
			return
		}
		truncateSQL.Store("TRUNCATE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE;")
	})
	sqlAny := truncateSQL.Load()
	if sqlAny == nil || sqlAny.(string) == "" {
		return fmt.Errorf("failed to build TRUNCATE SQL")
	}
	if _, err := pool.Exec(ctx, sqlAny.(string)); err != nil {
		return err
	}
	return nil
}
