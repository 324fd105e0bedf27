package components

import (
	"yoyaku-core/internal/infra/db"
	"yoyaku-core/internal/infra/readstore"
	"yoyaku-core/internal/infra/uow"
	"yoyaku-core/internal/usecase/queries"
	"yoyaku-core/internal/usecase/shared"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
)

var PersistenceModule = fx.Module("persistence",
	fx.Provide(
		NewDBTX,
		fx.Annotate(
			uow.NewPostgresUoW,
			fx.As(new(shared.UnitOfWork)),
		),
		fx.Annotate(
			readstore.NewBookingReadStore,
			fx.As(new(queries.BookingReadStore)),
		),
	),
)

// NewDBTX exposes the pool as the statement executor used outside
// transactions.
func NewDBTX(pool *pgxpool.Pool) db.DBTX {
	return pool
}
