package rest

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// rateLimiter tracks API weight usage reported on a configurable
// response header: a weight counter that resets once resetInterval has
// passed since the last reset, logging as usage approaches the ban
// threshold.
type rateLimiter struct {
	mu            sync.RWMutex
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
}

func newRateLimiter(limit int, resetInterval time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, resetInterval: resetInterval, lastReset: time.Now()}
}

func (rl *rateLimiter) updateFromHeader(header string) {
	if header == "" {
		return
	}
	weight, err := strconv.Atoi(header)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	if pct >= 95 {
		log.Warn().Int("used", rl.usedWeight).Int("limit", rl.limit).Msg("rest: rate limit critical")
	} else if pct >= 80 {
		log.Warn().Int("used", rl.usedWeight).Int("limit", rl.limit).Msg("rest: rate limit warning")
	}
}
