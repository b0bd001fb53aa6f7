package router

import "errors"

var ErrInvalidRateLimiterConfig = errors.New("invalid rate limiter configuration")
