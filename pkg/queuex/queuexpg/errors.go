package queuexpg

import "github.com/Abraxas-365/conveyor/pkg/errx"

var pgErrors = errx.NewRegistry("QUEUEX_PG")

var (
	ErrMigrate = pgErrors.Register("MIGRATE", errx.TypeExternal, "Postgres schema migration failed")
	ErrPush    = pgErrors.Register("PUSH", errx.TypeExternal, "Postgres push failed")
	ErrReserve = pgErrors.Register("RESERVE", errx.TypeExternal, "Postgres reserve failed")
	ErrGet     = pgErrors.Register("GET", errx.TypeExternal, "Postgres get job failed")
	ErrWrite   = pgErrors.Register("WRITE", errx.TypeExternal, "Postgres write failed")
	ErrRelease = pgErrors.Register("RELEASE", errx.TypeExternal, "Postgres release of delayed jobs failed")
	ErrInspect = pgErrors.Register("INSPECT", errx.TypeExternal, "Postgres inspection failed")
	ErrPing    = pgErrors.Register("PING", errx.TypeExternal, "Postgres unreachable")
)
