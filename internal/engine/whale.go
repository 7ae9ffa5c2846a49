package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// Whale flags.
const (
	FlagWhaleAccumulation Flag = "WHALE_ACCUMULATION"
	FlagLargeBuy          Flag = "LARGE_BUY"
	FlagLargeSell         Flag = "LARGE_SELL"
	FlagWhaleExit         Flag = "WHALE_EXIT"
)

// WhaleTier buckets a wallet by position value.
type WhaleTier string

const (
	WhaleTierShrimp  WhaleTier = "shrimp"
	WhaleTierDolphin WhaleTier = "dolphin"
	WhaleTierWhale   WhaleTier = "whale"
	WhaleTierMega    WhaleTier = "mega_whale"
)

// ClassifyWallet tiers a wallet by its USD position value.
func ClassifyWallet(valueUSD float64) WhaleTier {
	switch {
	case valueUSD >= 500_000:
		return WhaleTierMega
	case valueUSD >= 50_000:
		return WhaleTierWhale
	case valueUSD >= 10_000:
		return WhaleTierDolphin
	default:
		return WhaleTierShrimp
	}
}

// WhaleEngine watches for large-wallet activity: oversized buys and sells,
// sustained accumulation, and whale presence in the holder base. Large-trade
// flags are rate-limited per wallet and token so one whale working an order
// does not dominate the signal, while the same wallet stays visible when it
// moves on other tokens.
type WhaleEngine struct {
	cfg config.WhaleConfig

	mu       sync.Mutex
	lastFlag map[string]time.Time // token|wallet -> last large-trade flag time
}

func NewWhaleEngine(cfg config.WhaleConfig) *WhaleEngine {
	return &WhaleEngine{cfg: cfg, lastFlag: make(map[string]time.Time)}
}

func (e *WhaleEngine) Name() string { return NameWhale }

func (e *WhaleEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if aux == nil || (len(aux.Trades) == 0 && len(aux.TopHolders) == 0) {
		return Neutral(NameWhale)
	}

	res := Result{Engine: NameWhale, Score: 50, MaxScore: 100}
	now := time.Now()
	if snap != nil && !snap.ObservedAt.IsZero() {
		now = snap.ObservedAt
	}

	// Whale presence among top holders, weighted by the largest tier seen.
	topTier := WhaleTierShrimp
	whales := 0
	for _, h := range aux.TopHolders {
		v, _ := h.ValueUSD.Float64()
		if tier := ClassifyWallet(v); tierPoints(tier) > tierPoints(topTier) {
			topTier = tier
		}
		if v >= e.cfg.MinWalletValueUSD {
			whales++
		}
	}
	if pts := tierPoints(topTier); pts > 0 {
		res.Score += pts
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("%s among top holders", topTier))
	}
	if whales >= 3 {
		res.Score += 5
	}

	var addr token.Address
	if snap != nil {
		addr = snap.Address
	}

	// Large trades, with per-wallet-per-token cooldown.
	buyCount := make(map[string]int)
	for _, t := range aux.Trades {
		amt, _ := t.AmountUSD.Float64()
		switch t.Side {
		case token.SideBuy:
			buyCount[t.Wallet]++
			if amt >= e.cfg.LargeBuyUSD && e.allowFlag(addr, t.Wallet, t.Timestamp, now) {
				res.Score += 10
				res.Flags = appendUnique(res.Flags, FlagLargeBuy)
				res.Evidence = append(res.Evidence,
					fmt.Sprintf("$%.0f buy by %s", amt, shortWallet(t.Wallet)))
			}
		case token.SideSell:
			if amt >= e.cfg.LargeSellUSD && e.allowFlag(addr, t.Wallet, t.Timestamp, now) {
				res.Score -= 15
				res.Flags = appendUnique(res.Flags, FlagLargeSell)
				res.Evidence = append(res.Evidence,
					fmt.Sprintf("$%.0f sell by %s", amt, shortWallet(t.Wallet)))
			}
		}
	}

	// Accumulation: the same wallet buying repeatedly without selling.
	for wallet, n := range buyCount {
		if n >= e.cfg.AccumulationCount && !soldAny(aux.Trades, wallet) {
			res.Score += 12
			res.Flags = appendUnique(res.Flags, FlagWhaleAccumulation)
			res.Evidence = append(res.Evidence,
				fmt.Sprintf("%s accumulated over %d buys", shortWallet(wallet), n))
			break
		}
	}

	// Whale exit: a top-10 holder appearing on the sell side.
	top := make(map[string]struct{}, 10)
	for i, h := range aux.TopHolders {
		if i >= 10 {
			break
		}
		top[h.Wallet] = struct{}{}
	}
	for _, t := range aux.Trades {
		if t.Side != token.SideSell {
			continue
		}
		if _, ok := top[t.Wallet]; ok {
			res.Score -= 20
			res.Flags = appendUnique(res.Flags, FlagWhaleExit)
			res.Evidence = append(res.Evidence,
				fmt.Sprintf("top holder %s selling", shortWallet(t.Wallet)))
			break
		}
	}

	res.Score = clamp(res.Score, 0, 100)
	return res
}

// tierPoints weights whale presence by tier.
func tierPoints(t WhaleTier) float64 {
	switch t {
	case WhaleTierMega:
		return 15
	case WhaleTierWhale:
		return 10
	case WhaleTierDolphin:
		return 4
	default:
		return 0
	}
}

// allowFlag enforces the large-trade flag cooldown, keyed by token and
// wallet so activity on one token never mutes the same wallet elsewhere.
func (e *WhaleEngine) allowFlag(addr token.Address, wallet string, tradeAt, now time.Time) bool {
	cooldown := time.Duration(e.cfg.CooldownS) * time.Second
	key := string(addr) + "|" + wallet
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastFlag[key]; ok && tradeAt.Sub(last) < cooldown {
		return false
	}
	e.lastFlag[key] = tradeAt
	// Opportunistic purge of stale entries.
	for w, ts := range e.lastFlag {
		if now.Sub(ts) > 2*cooldown {
			delete(e.lastFlag, w)
		}
	}
	return true
}

func soldAny(trades []token.Trade, wallet string) bool {
	for _, t := range trades {
		if t.Wallet == wallet && t.Side == token.SideSell {
			return true
		}
	}
	return false
}

func appendUnique(flags []Flag, f Flag) []Flag {
	for _, have := range flags {
		if have == f {
			return flags
		}
	}
	return append(flags, f)
}

func shortWallet(w string) string {
	if len(w) <= 8 {
		return w
	}
	return w[:4] + ".." + w[len(w)-4:]
}
