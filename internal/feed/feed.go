// Package feed provides the gold reference price feed: the collaborator
// interface the engine consumes, a WebSocket client implementation, and a
// static feed for tests and offline simulation.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// Quote is one gold reference observation. The moving average and
// standard deviation are computed upstream by the feed provider.
type Quote struct {
	Price         fixedpoint.Value
	MovingAverage fixedpoint.Value
	StdDev        fixedpoint.Value
	Confidence    fixedpoint.Value // 0..1
	Healthy       bool
	Timestamp     int64
}

// ErrNoQuote is returned before the feed has produced any observation.
var ErrNoQuote = errors.New("feed: no quote available")

// PriceFeed supplies the latest gold reference quote on demand.
type PriceFeed interface {
	Quote(ctx context.Context) (Quote, error)
}

// Static is a manually driven feed for tests and simulation.
type Static struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
}

// NewStatic creates an empty static feed.
func NewStatic() *Static {
	return &Static{}
}

// Compile-time interface check.
var _ PriceFeed = (*Static)(nil)

// Quote returns the last quote set, or ErrNoQuote.
func (s *Static) Quote(_ context.Context) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return Quote{}, ErrNoQuote
	}
	return s.quote, nil
}

// Set replaces the feed's quote.
func (s *Static) Set(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = q
	s.set = true
}
