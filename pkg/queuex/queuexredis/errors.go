package queuexredis

import "github.com/Abraxas-365/conveyor/pkg/errx"

var redisErrors = errx.NewRegistry("QUEUEX_REDIS")

var (
	ErrPush    = redisErrors.Register("PUSH", errx.TypeExternal, "Redis push failed")
	ErrReserve = redisErrors.Register("RESERVE", errx.TypeExternal, "Redis reserve failed")
	ErrGet     = redisErrors.Register("GET", errx.TypeExternal, "Redis get job failed")
	ErrWrite   = redisErrors.Register("WRITE", errx.TypeExternal, "Redis write failed")
	ErrRelease = redisErrors.Register("RELEASE", errx.TypeExternal, "Redis release of delayed jobs failed")
	ErrInspect = redisErrors.Register("INSPECT", errx.TypeExternal, "Redis inspection failed")
	ErrPing    = redisErrors.Register("PING", errx.TypeExternal, "Redis unreachable")
)
