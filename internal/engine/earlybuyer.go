package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// Early-buyer flags.
const (
	FlagEarlyBuyersHolding Flag = "EARLY_BUYERS_HOLDING"
	FlagEarlyBuyersDumping Flag = "EARLY_BUYERS_DUMPING"
	FlagDiamondHands       Flag = "EARLY_DIAMOND_HANDS"
	FlagProfitOverhang     Flag = "EARLY_PROFIT_OVERHANG"
	FlagSniperHeavy        Flag = "SNIPER_HEAVY"
)

// EarlyBuyerEngine profiles the first N buyers of a token. Early buyers who
// keep holding signal conviction; early buyers flipping out within minutes
// signal a snipe-and-dump launch.
type EarlyBuyerEngine struct {
	cfg config.EarlyConfig
}

func NewEarlyBuyerEngine(cfg config.EarlyConfig) *EarlyBuyerEngine {
	return &EarlyBuyerEngine{cfg: cfg}
}

func (e *EarlyBuyerEngine) Name() string { return NameEarlyBuyers }

func (e *EarlyBuyerEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if aux == nil || len(aux.Trades) == 0 {
		return Neutral(NameEarlyBuyers)
	}

	trades := make([]token.Trade, len(aux.Trades))
	copy(trades, aux.Trades)
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})

	// Collect the first N distinct buyer wallets in trade order.
	early := make(map[string]struct{}, e.cfg.FirstNBuyers)
	var order []string
	for _, t := range trades {
		if t.Side != token.SideBuy {
			continue
		}
		if _, seen := early[t.Wallet]; seen {
			continue
		}
		early[t.Wallet] = struct{}{}
		order = append(order, t.Wallet)
		if len(early) >= e.cfg.FirstNBuyers {
			break
		}
	}
	if len(early) == 0 {
		return Neutral(NameEarlyBuyers)
	}

	// Of those, how many have since sold?
	sold := make(map[string]struct{})
	for _, t := range trades {
		if t.Side != token.SideSell {
			continue
		}
		if _, ok := early[t.Wallet]; ok {
			sold[t.Wallet] = struct{}{}
		}
	}

	retention := 1 - float64(len(sold))/float64(len(early))
	res := Result{
		Engine:   NameEarlyBuyers,
		Score:    retention * 100,
		MaxScore: 100,
	}
	res.Evidence = append(res.Evidence,
		fmt.Sprintf("%d of %d early buyers still holding", len(early)-len(sold), len(early)))

	switch {
	case retention >= 0.8:
		res.Flags = append(res.Flags, FlagEarlyBuyersHolding)
	case retention < 0.4:
		res.Flags = append(res.Flags, FlagEarlyBuyersDumping)
	}

	// Unrealized PnL across the cohort, for the trades that carry an entry
	// price. Holders sitting on a solid gain are conviction; a cohort mostly
	// up several multiples is unsold profit waiting to become exit pressure.
	if snap != nil {
		cur, _ := snap.PriceUSD.Float64()
		priced, diamonds, overhang := 0, 0, 0
		var pnlSum float64
		if cur > 0 {
			for _, w := range order {
				entry := entryPrice(trades, w)
				if entry <= 0 {
					continue
				}
				priced++
				pnlPct := (cur - entry) / entry * 100
				pnlSum += pnlPct
				if _, didSell := sold[w]; !didSell && pnlPct > 50 {
					diamonds++
				}
				if pnlPct > 200 {
					overhang++
				}
			}
		}
		if priced > 0 {
			res.Evidence = append(res.Evidence,
				fmt.Sprintf("avg unrealized PnL %+.0f%% across %d priced entries",
					pnlSum/float64(priced), priced))
			if float64(overhang)/float64(priced) > 0.3 {
				res.Score = clamp(res.Score-15, 0, 100)
				res.Flags = append(res.Flags, FlagProfitOverhang)
			} else if float64(diamonds)/float64(priced) >= 0.5 {
				res.Score = clamp(res.Score+10, 0, 100)
				res.Flags = append(res.Flags, FlagDiamondHands)
			}
		}
	}

	// Snipers: early buyers in and out within the first minute of trading.
	if snap != nil && !snap.PairCreatedAt.IsZero() {
		snipers := 0
		for _, w := range order {
			if _, didSell := sold[w]; !didSell {
				continue
			}
			if firstBuyAt(trades, w).Sub(snap.PairCreatedAt).Seconds() < 60 {
				snipers++
			}
		}
		if frac := float64(snipers) / float64(len(early)); frac > 0.3 {
			res.Score = clamp(res.Score-20, 0, 100)
			res.Flags = append(res.Flags, FlagSniperHeavy)
			res.Evidence = append(res.Evidence,
				fmt.Sprintf("%d first-minute snipers already out", snipers))
		}
	}

	return res
}

func firstBuyAt(sorted []token.Trade, wallet string) time.Time {
	for _, t := range sorted {
		if t.Wallet == wallet && t.Side == token.SideBuy {
			return t.Timestamp
		}
	}
	return time.Time{}
}

// entryPrice is the price paid on the wallet's first buy, zero when the
// feed did not report one.
func entryPrice(sorted []token.Trade, wallet string) float64 {
	for _, t := range sorted {
		if t.Wallet == wallet && t.Side == token.SideBuy {
			p, _ := t.PriceUSD.Float64()
			return p
		}
	}
	return 0
}
