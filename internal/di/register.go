package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
// 1. Config (no dependencies)
// 2. Logger (Config)
// 3. Store (Config, Logger)
// 4. Cache (Config, Logger)
// 5. Browser (Config, Logger)
// 6. HealthTracker (Config, Logger)
// 7. RateLimits (Config)
// 8. Flow client (Config, Logger, Browser, HealthTracker, RateLimits)
// 9. Tokens (Store, Flow, Browser, Config, Logger)
// 10. Concurrency (Config, Tokens)
// 11. Balancer (Config, Tokens, Concurrency)
// 12. Settings (Store, Config, Concurrency, Tokens, Flow)
// 13. Generation (Tokens, Balancer, Concurrency, Flow, Cache)
// 14. Scheduler (Config, Tokens, Browser, Logger)
// 15. Handler (all of the above)
// 16. Server (Handler, Config).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewStore)
	do.Provide(i, NewCache)
	do.Provide(i, NewBrowser)
	do.Provide(i, NewHealthTracker)
	do.Provide(i, NewRateLimits)
	do.Provide(i, NewFlowClient)
	do.Provide(i, NewTokens)
	do.Provide(i, NewConcurrency)
	do.Provide(i, NewBalancer)
	do.Provide(i, NewSettings)
	do.Provide(i, NewGeneration)
	do.Provide(i, NewScheduler)
	do.Provide(i, NewHandler)
	do.Provide(i, NewHTTPServer)
}
