package signal

import (
	"context"
	"errors"
	"testing"

	"github.com/apex-trading/apex/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	listing []position.Signal
	err     error
}

func (f *stubFeed) Latest(_ context.Context) ([]position.Signal, error) {
	return f.listing, f.err
}

func sig(chain position.ChainKey, addr string) position.Signal {
	return position.Signal{
		Chain:    chain,
		Symbol:   "TKN",
		Address:  addr,
		PriceUSD: decimal.NewFromFloat(0.001),
	}
}

func TestSource_FiltersByChain(t *testing.T) {
	feed := &stubFeed{listing: []position.Signal{
		sig(position.ChainETH, "0xabc"),
		sig(position.ChainSOL, "mint-1"),
	}}
	src := NewSource(feed, position.NewRecentSet())

	res := src.Next(context.Background(), position.ChainSOL)
	require.Equal(t, Found, res.Kind)
	assert.Equal(t, "mint-1", res.Signal.Address)

	res = src.Next(context.Background(), position.ChainBSC)
	assert.Equal(t, Empty, res.Kind)
}

func TestSource_ExcludesRecentlyTraded(t *testing.T) {
	feed := &stubFeed{listing: []position.Signal{
		sig(position.ChainSOL, "mint-1"),
		sig(position.ChainSOL, "mint-2"),
	}}
	recent := position.NewRecentSet()
	recent.Mark("mint-1")
	src := NewSource(feed, recent)

	res := src.Next(context.Background(), position.ChainSOL)
	require.Equal(t, Found, res.Kind)
	assert.Equal(t, "mint-2", res.Signal.Address)

	recent.Mark("mint-2")
	res = src.Next(context.Background(), position.ChainSOL)
	assert.Equal(t, Empty, res.Kind)
}

func TestSource_FeedFailureIsNotFatal(t *testing.T) {
	feed := &stubFeed{err: errors.New("dexfeed: HTTP 502")}
	src := NewSource(feed, position.NewRecentSet())

	res := src.Next(context.Background(), position.ChainSOL)
	assert.Equal(t, Failed, res.Kind)
	assert.Error(t, res.Err)
}

func TestSource_SkipsBlankAddresses(t *testing.T) {
	feed := &stubFeed{listing: []position.Signal{
		{Chain: position.ChainSOL, Symbol: "BAD"},
		sig(position.ChainSOL, "mint-1"),
	}}
	src := NewSource(feed, position.NewRecentSet())

	res := src.Next(context.Background(), position.ChainSOL)
	require.Equal(t, Found, res.Kind)
	assert.Equal(t, "mint-1", res.Signal.Address)
}
