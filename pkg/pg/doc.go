// Package pg wires PostgreSQL into notifykit using pgx/v5.
//
// Connect opens a *pgxpool.Pool with retries, Migrate applies the goose
// migrations embedded in the migrations package (or a directory given by
// PG_MIGRATIONS_PATH), and Healthcheck returns a probe for readiness checks.
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//	    return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    return err
//	}
//
// The error helpers classify *pgconn.PgError values so stores can map unique
// violations and missing rows onto their own sentinels.
package pg
