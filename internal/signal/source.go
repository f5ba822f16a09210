package signal

import (
	"context"

	"github.com/apex-trading/apex/internal/position"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Signal Source — lazy per-chain candidate stream over a discovery feed,
// deduplicated against recently-traded addresses
// ---------------------------------------------------------------------------

// DiscoveryFeed lists the latest candidate assets across all chains.
type DiscoveryFeed interface {
	Latest(ctx context.Context) ([]position.Signal, error)
}

// Kind tags a scan result so callers never have to distinguish "no signal"
// from "feed down" by error sniffing.
type Kind int

const (
	// Found carries a qualifying signal.
	Found Kind = iota
	// Empty means no qualifying signal this poll; keep polling.
	Empty
	// Failed means the feed query failed; also keep polling.
	Failed
)

// Result is the outcome of one scan.
type Result struct {
	Kind   Kind
	Signal position.Signal
	Err    error
}

// Source produces candidate signals per chain.
type Source struct {
	feed   DiscoveryFeed
	recent *position.RecentSet
}

// NewSource creates a source over a discovery feed, excluding addresses in
// the recent set.
func NewSource(feed DiscoveryFeed, recent *position.RecentSet) *Source {
	return &Source{feed: feed, recent: recent}
}

// Next returns the first qualifying signal for the chain, Empty when nothing
// qualifies this poll, or Failed when the feed is unreachable. Neither Empty
// nor Failed is terminal.
func (s *Source) Next(ctx context.Context, chain position.ChainKey) Result {
	listing, err := s.feed.Latest(ctx)
	if err != nil {
		log.Debug().Err(err).Str("chain", string(chain)).Msg("signal: feed query failed")
		return Result{Kind: Failed, Err: err}
	}

	for _, sig := range listing {
		if sig.Chain != chain || sig.Address == "" {
			continue
		}
		if s.recent.Contains(sig.Address) {
			continue
		}
		return Result{Kind: Found, Signal: sig}
	}
	return Result{Kind: Empty}
}
