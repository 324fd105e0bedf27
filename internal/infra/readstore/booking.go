package readstore

import (
	"context"
	"encoding/json"
	"time"

	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/infra"
	"yoyaku-core/internal/infra/db"
	"yoyaku-core/internal/pkg/pgconv"
	"yoyaku-core/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	findBookingByIDSQL = `
		SELECT id, tenant_id, customer_id, service_id, start_at, end_at, status,
		       total_jpy, max_penalty_jpy, idempotency_key, expires_at, metadata,
		       created_at, updated_at
		FROM bookings
		WHERE id = @id AND tenant_id = @tenant_id AND deleted_at IS NULL`

	findBookingByIdemKeySQL = `
		SELECT id, tenant_id, customer_id, service_id, start_at, end_at, status,
		       total_jpy, max_penalty_jpy, idempotency_key, expires_at, metadata,
		       created_at, updated_at
		FROM bookings
		WHERE tenant_id = @tenant_id AND idempotency_key = @idempotency_key AND deleted_at IS NULL`

	findBookingItemsSQL = `
		SELECT timeslot_id, resource_id
		FROM booking_items
		WHERE booking_id = @booking_id
		ORDER BY timeslot_id`

	// Optional filters are null-tolerant predicates so the statement text
	// stays fixed regardless of which criteria are present.
	searchBookingsWhereSQL = `
		FROM bookings b
		WHERE b.tenant_id = @tenant_id
		  AND b.deleted_at IS NULL
		  AND (@customer_id::uuid IS NULL OR b.customer_id = @customer_id)
		  AND (@service_id::uuid IS NULL OR b.service_id = @service_id)
		  AND (@resource_id::uuid IS NULL OR EXISTS (
		        SELECT 1 FROM booking_items bi
		        WHERE bi.booking_id = b.id AND bi.resource_id = @resource_id))
		  AND (@statuses::text[] IS NULL OR b.status = ANY(@statuses))
		  AND (@from_at::timestamptz IS NULL OR b.start_at >= @from_at)
		  AND (@to_at::timestamptz IS NULL OR b.start_at < @to_at)`

	searchBookingsSelectSQL = `
		SELECT b.id, b.customer_id, b.service_id, b.start_at, b.end_at,
		       b.status, b.total_jpy, b.created_at`

	searchBookingsCountSQL = `SELECT count(*)` + searchBookingsWhereSQL

	statsStatusSQL = `
		SELECT status, count(*), COALESCE(sum(total_jpy), 0),
		       COALESCE(avg(EXTRACT(EPOCH FROM (end_at - start_at)) / 60), 0)
		FROM bookings
		WHERE tenant_id = @tenant_id
		  AND start_at >= @from_at AND start_at < @to_at
		  AND deleted_at IS NULL
		  AND (@resource_id::uuid IS NULL OR EXISTS (
		        SELECT 1 FROM booking_items bi
		        WHERE bi.booking_id = bookings.id AND bi.resource_id = @resource_id))
		GROUP BY status`

	statsPeakHoursSQL = `
		SELECT EXTRACT(HOUR FROM start_at)::int AS hour, count(*)
		FROM bookings
		WHERE tenant_id = @tenant_id
		  AND start_at >= @from_at AND start_at < @to_at
		  AND status NOT IN ('cancelled', 'noshow')
		  AND deleted_at IS NULL
		  AND (@resource_id::uuid IS NULL OR EXISTS (
		        SELECT 1 FROM booking_items bi
		        WHERE bi.booking_id = bookings.id AND bi.resource_id = @resource_id))
		GROUP BY hour
		ORDER BY count(*) DESC, hour
		LIMIT 5`

	statsTopResourcesSQL = `
		SELECT bi.resource_id, count(DISTINCT b.id)
		FROM bookings b
		JOIN booking_items bi ON bi.booking_id = b.id
		WHERE b.tenant_id = @tenant_id
		  AND b.start_at >= @from_at AND b.start_at < @to_at
		  AND b.status NOT IN ('cancelled', 'noshow')
		  AND b.deleted_at IS NULL
		  AND (@resource_id::uuid IS NULL OR bi.resource_id = @resource_id)
		GROUP BY bi.resource_id
		ORDER BY count(DISTINCT b.id) DESC, bi.resource_id
		LIMIT 5`
)

// sortClauses whitelists the ORDER BY fragments; criteria never reach the
// statement text directly.
var sortClauses = map[queries.SortKey]string{
	queries.SortByStartTime: ` ORDER BY b.start_at, b.id`,
	queries.SortByCreatedAt: ` ORDER BY b.created_at DESC, b.id`,
	queries.SortByStatus:    ` ORDER BY b.status, b.start_at, b.id`,
}

type BookingReadStore struct {
	db db.DBTX
}

func NewBookingReadStore(pool db.DBTX) *BookingReadStore {
	return &BookingReadStore{db: pool}
}

func (r *BookingReadStore) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*queries.BookingView, error) {
	return r.findOne(ctx, findBookingByIDSQL, pgx.NamedArgs{
		"id":        id,
		"tenant_id": tenantID,
	})
}

func (r *BookingReadStore) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*queries.BookingView, error) {
	return r.findOne(ctx, findBookingByIdemKeySQL, pgx.NamedArgs{
		"tenant_id":       tenantID,
		"idempotency_key": key,
	})
}

func (r *BookingReadStore) findOne(ctx context.Context, sql string, args pgx.NamedArgs) (*queries.BookingView, error) {
	var (
		view      queries.BookingView
		expiresAt pgtype.Timestamptz
		metadata  []byte
	)
	err := r.db.QueryRow(ctx, sql, args).Scan(
		&view.ID, &view.TenantID, &view.CustomerID, &view.ServiceID,
		&view.StartAt, &view.EndAt, &view.Status,
		&view.TotalJPY, &view.MaxPenaltyJPY, &view.IdempotencyKey,
		&expiresAt, &metadata, &view.CreatedAt, &view.UpdatedAt,
	)
	if err != nil {
		if pgconv.IsNoRows(err) {
			return nil, infra.WrapRepoErr("booking not found", err, infra.KindNotFound)
		}
		return nil, infra.WrapRepoErr("failed to find booking", err)
	}
	view.ExpiresAt = pgconv.TimePtrFromPgtype(expiresAt)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &view.Metadata); err != nil {
			return nil, infra.WrapRepoErr("failed to decode booking metadata", err)
		}
	}

	items, err := r.findItems(ctx, view.ID)
	if err != nil {
		return nil, err
	}
	view.Items = items
	if len(items) > 0 {
		view.ResourceID = items[0].ResourceID
	}
	return &view, nil
}

func (r *BookingReadStore) findItems(ctx context.Context, bookingID uuid.UUID) ([]queries.BookingItemView, error) {
	rows, err := r.db.Query(ctx, findBookingItemsSQL, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, infra.WrapRepoErr("failed to find booking items", err)
	}
	defer rows.Close()

	var items []queries.BookingItemView
	for rows.Next() {
		var item queries.BookingItemView
		if err := rows.Scan(&item.TimeSlotID, &item.ResourceID); err != nil {
			return nil, infra.WrapRepoErr("failed to scan booking item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate booking items", err)
	}
	return items, nil
}

// Search runs the filtered page and the total count against the same WHERE
// fragment so the two can never drift apart.
func (r *BookingReadStore) Search(ctx context.Context, c queries.SearchCriteria) ([]*queries.BookingListItem, int64, error) {
	args := searchArgs(c)

	var total int64
	if err := r.db.QueryRow(ctx, searchBookingsCountSQL, args).Scan(&total); err != nil {
		return nil, 0, infra.WrapRepoErr("failed to count bookings", err)
	}

	orderBy, ok := sortClauses[c.SortBy]
	if !ok {
		orderBy = sortClauses[queries.SortByStartTime]
	}
	sql := searchBookingsSelectSQL + searchBookingsWhereSQL + orderBy + ` LIMIT @limit OFFSET @offset`
	args["limit"] = c.Limit
	args["offset"] = c.Offset

	rows, err := r.db.Query(ctx, sql, args)
	if err != nil {
		return nil, 0, infra.WrapRepoErr("failed to search bookings", err)
	}
	defer rows.Close()

	var items []*queries.BookingListItem
	for rows.Next() {
		var item queries.BookingListItem
		if err := rows.Scan(
			&item.ID, &item.CustomerID, &item.ServiceID,
			&item.StartAt, &item.EndAt, &item.Status,
			&item.TotalJPY, &item.CreatedAt,
		); err != nil {
			return nil, 0, infra.WrapRepoErr("failed to scan booking row", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, infra.WrapRepoErr("failed to iterate booking rows", err)
	}
	return items, total, nil
}

func searchArgs(c queries.SearchCriteria) pgx.NamedArgs {
	var statuses []string
	for _, s := range c.Statuses {
		statuses = append(statuses, s.String())
	}
	return pgx.NamedArgs{
		"tenant_id":   c.TenantID,
		"customer_id": c.CustomerID,
		"service_id":  c.ServiceID,
		"resource_id": c.ResourceID,
		"statuses":    statuses,
		"from_at":     c.From,
		"to_at":       c.To,
	}
}

// Statistics runs snapshot reads on the pool; the aggregate is allowed to lag
// in-flight writes.
func (r *BookingReadStore) Statistics(ctx context.Context, tenantID uuid.UUID, from, to time.Time, resourceID *uuid.UUID) (*queries.BookingStatistics, error) {
	stats := &queries.BookingStatistics{
		StatusCounts: make(map[string]int64),
	}

	args := pgx.NamedArgs{
		"tenant_id":   tenantID,
		"from_at":     from,
		"to_at":       to,
		"resource_id": resourceID,
	}

	rows, err := r.db.Query(ctx, statsStatusSQL, args)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to aggregate booking statuses", err)
	}
	defer rows.Close()

	var (
		weightedMin float64
		total       int64
	)
	for rows.Next() {
		var (
			status      string
			count       int64
			valueJPY    int64
			avgDuration float64
		)
		if err := rows.Scan(&status, &count, &valueJPY, &avgDuration); err != nil {
			return nil, infra.WrapRepoErr("failed to scan status aggregate", err)
		}
		stats.StatusCounts[status] = count
		total += count
		weightedMin += avgDuration * float64(count)
		// 取消・無断キャンセル分は売上合計に含めない
		if status != booking.StatusCancelled.String() && status != booking.StatusNoShow.String() {
			stats.TotalValueJPY += valueJPY
		}
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate status aggregates", err)
	}
	if total > 0 {
		stats.AverageDurationMin = weightedMin / float64(total)
	}

	peak, err := r.db.Query(ctx, statsPeakHoursSQL, args)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to aggregate peak hours", err)
	}
	defer peak.Close()
	for peak.Next() {
		var hc queries.HourCount
		if err := peak.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, infra.WrapRepoErr("failed to scan peak hour", err)
		}
		stats.PeakHours = append(stats.PeakHours, hc)
	}
	if err := peak.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate peak hours", err)
	}

	top, err := r.db.Query(ctx, statsTopResourcesSQL, args)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to aggregate top resources", err)
	}
	defer top.Close()
	for top.Next() {
		var rc queries.ResourceCount
		if err := top.Scan(&rc.ResourceID, &rc.Count); err != nil {
			return nil, infra.WrapRepoErr("failed to scan top resource", err)
		}
		stats.TopResources = append(stats.TopResources, rc)
	}
	if err := top.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate top resources", err)
	}

	return stats, nil
}
