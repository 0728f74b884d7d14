// Package handlers holds the pieces of the status API that are independent
// of server wiring: health checking, admin authentication, shared
// middleware, and the manual trigger runner.
//
// # Health checks
//
// CompositeHealthChecker runs named dependency probes in parallel and
// aggregates them into the status served by /health:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewDatabaseCheck(db))
//	checker.AddCheck("cache", handlers.NewCacheCheck(cache))
//	checker.AddCheck("discord", handlers.NewDiscordCheck(discordClient))
//
// # Manual triggers
//
// TriggerRunner starts tracking runs from the admin POST endpoint. The
// async implementation detaches from the HTTP request and allows one run
// at a time:
//
//	runner := handlers.NewAsyncTriggerRunner(run, time.Hour, log)
//	receipt, err := runner.TriggerRun(ctx, handlers.TriggerRequest{Offline: true})
//	if errors.Is(err, handlers.ErrTriggerBusy) {
//		// a run is already executing
//	}
//
// # Middleware
//
// AdminAuth verifies a bcrypt-hashed admin token; the hardening middleware
// (security headers, cache control, body size limits, timeouts) composes
// with ChainHandler:
//
//	handler := handlers.ChainHandler(
//		auth.Middleware(myHandler),
//		handlers.SecurityHeadersMiddleware,
//		handlers.NoCacheMiddleware,
//		handlers.RequestSizeLimitMiddleware(64<<10),
//	)
package handlers
