// Package pg wires PostgreSQL connectivity for the billing service: pool
// construction with startup retries, goose migrations bridged onto pgx, a
// readiness probe, and helpers for classifying common PostgreSQL errors.
//
// Typical startup sequence:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Error("db connect", "error", err)
//		os.Exit(1)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		log.Error("db migrate", "error", err)
//		os.Exit(1)
//	}
package pg
