package components

import (
	"yoyaku-core/internal/domain/booking"
	"yoyaku-core/internal/pkg/clock"
	"yoyaku-core/internal/pkg/config"
	"yoyaku-core/internal/usecase/commands"
	"yoyaku-core/internal/usecase/queries"
	"yoyaku-core/internal/usecase/shared"

	"go.uber.org/fx"
)

var UseCaseModule = fx.Module("usecase",
	usecaseBaseOption,
	usecaseQueriesModule,
	usecaseCommandsModule,
)

var usecaseBaseOption = fx.Provide(
	clock.NewRealClock,
	func(cfg config.Config) booking.AmountCalculator {
		return booking.NewHourlyRateCalculator(cfg.Booking.HourlyRateJPY, cfg.Booking.PenaltyPercent)
	},
	func(clock clock.Clock, amounts booking.AmountCalculator, cfg config.Config) *booking.Factory {
		return booking.NewFactory(clock, amounts, cfg.Booking.TentativeTTL)
	},
)

var usecaseQueriesModule = fx.Module("usecase/queries",
	fx.Provide(
		func(store queries.BookingReadStore, cfg config.Config) queries.BookingQueries {
			return queries.NewBookingQueries(store, cfg.Booking.SearchRowCap)
		},
	),
)

var usecaseCommandsModule = fx.Module("usecase/commands",
	fx.Provide(
		func(
			uow shared.UnitOfWork,
			factory *booking.Factory,
			views queries.BookingQueries,
			clock clock.Clock,
			cfg config.Config,
		) commands.BookingCommands {
			return commands.NewBookingUseCase(uow, factory, views, clock, cfg.Booking.ExpirySweepBatch)
		},
	),
)
