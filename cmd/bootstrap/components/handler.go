package components

import (
	"yoyaku-core/internal/handler"
	"yoyaku-core/internal/handler/api"
	"yoyaku-core/internal/handler/middleware"

	"go.uber.org/fx"
)

var HandlerModule = fx.Module("handler",
	fx.Provide(
		api.NewBookingHandler,
		middleware.NewTenantMiddleware,
	),
	fx.Invoke(handler.NewRouter),
)
