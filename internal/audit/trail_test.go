package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mint = solana.Pubkey("MintAAA")

func TestTrail_RecordsDecisionChain(t *testing.T) {
	trail := NewTrail(10, nil, zerolog.Nop())

	trail.OnLaunchDetected(detect.LaunchCandidate{Venue: detect.VenuePumpFun, Mint: mint, Signature: "sig-1"})
	trail.OnRiskVerdict(&risk.Verdict{Mint: mint, Score: 85, Passed: true})
	trail.OnBuy("launch", execution.BuyResult{Success: true, Mint: mint, Signature: "sig-buy", InputSOL: decimal.NewFromFloat(0.1)})
	trail.OnSell("exit", execution.SellResult{Success: false, Mint: mint, Error: "no route"})
	trail.OnRiskVerdict(&risk.Verdict{Mint: "Other", Passed: false})

	chain := trail.Query(mint)
	require.Len(t, chain, 4)
	assert.Equal(t, KindLaunch, chain[0].Kind)
	assert.Equal(t, solana.Signature("sig-1"), chain[0].Signature)
	assert.Equal(t, KindVerdict, chain[1].Kind)
	assert.Equal(t, "pass", chain[1].Decision)
	assert.Equal(t, KindBuy, chain[2].Kind)
	assert.Equal(t, "launch", chain[2].Origin)
	assert.Equal(t, "success", chain[2].Decision)
	assert.Equal(t, KindSell, chain[3].Kind)
	assert.Equal(t, "failure", chain[3].Decision)

	var payload execution.BuyResult
	require.NoError(t, json.Unmarshal(chain[2].Payload, &payload))
	assert.True(t, payload.InputSOL.Equal(decimal.NewFromFloat(0.1)))

	other := trail.Query("Other")
	require.Len(t, other, 1)
	assert.Equal(t, "reject", other[0].Decision)

	for _, e := range trail.Entries() {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestTrail_RingBufferKeepsNewest(t *testing.T) {
	trail := NewTrail(3, nil, zerolog.Nop())
	for i := 0; i < 5; i++ {
		trail.OnFatalError(fmt.Errorf("err-%d", i))
	}

	assert.Equal(t, 3, trail.Len())
	entries := trail.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "err-2", entries[0].Decision)
	assert.Equal(t, "err-4", entries[2].Decision)

	recent := trail.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "err-3", recent[0].Decision)
	assert.Len(t, trail.Recent(0), 3)
}

func TestTrail_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	trail := NewTrail(10, &buf, zerolog.Nop())

	trail.OnCopyTradeDetected(detect.CopyEvent{Wallet: "Whale", Mint: mint, Direction: detect.DirectionBuy})
	trail.OnFatalError(errors.New("stream closed"))

	var kinds []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{KindCopyTrade, KindFatal}, kinds)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTrail_SinkFailureKeepsBuffer(t *testing.T) {
	trail := NewTrail(10, failingWriter{}, zerolog.Nop())
	trail.OnRiskVerdict(&risk.Verdict{Mint: mint, Passed: true})
	assert.Equal(t, 1, trail.Len())
}

func TestTrail_ConcurrentRecord(t *testing.T) {
	trail := NewTrail(1000, nil, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trail.OnBuy("copy", execution.BuyResult{Mint: mint})
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, trail.Len())
}
