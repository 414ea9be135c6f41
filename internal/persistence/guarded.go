package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// GuardedRepo puts a circuit breaker in front of a RunRepo so a failing
// database stops being hit after a few consecutive errors.
type GuardedRepo struct {
	repo    RunRepo
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedRepo wraps repo with a breaker that opens after three consecutive
// failures, or a 5% failure rate once 20 requests have been seen.
func NewGuardedRepo(name string, repo RunRepo, cooldown time.Duration) *GuardedRepo {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = cooldown
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Persistence breaker state changed")
	}
	return &GuardedRepo{repo: repo, breaker: gobreaker.NewCircuitBreaker(st)}
}

// State reports the breaker state
func (g *GuardedRepo) State() gobreaker.State {
	return g.breaker.State()
}

func (g *GuardedRepo) Save(ctx context.Context, rec RunRecord) error {
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.repo.Save(ctx, rec)
	})
	return translate(err)
}

func (g *GuardedRepo) Get(ctx context.Context, id string) (*RunRecord, error) {
	v, err := g.breaker.Execute(func() (any, error) {
		return g.repo.Get(ctx, id)
	})
	if err != nil {
		return nil, translate(err)
	}
	return v.(*RunRecord), nil
}

func (g *GuardedRepo) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	v, err := g.breaker.Execute(func() (any, error) {
		return g.repo.Recent(ctx, limit)
	})
	if err != nil {
		return nil, translate(err)
	}
	return v.([]RunRecord), nil
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}
