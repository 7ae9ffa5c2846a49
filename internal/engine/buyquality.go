package engine

import (
	"fmt"

	"github.com/dexintel/sentinel/internal/token"
)

// Buy-quality flags.
const (
	FlagStrongBuyPressure Flag = "STRONG_BUY_PRESSURE"
	FlagSellPressure      Flag = "SELL_PRESSURE"
	FlagThinBuyerBase     Flag = "THIN_BUYER_BASE"
	FlagAccelerating      Flag = "ACCELERATING_BUYS"
)

// BuyQualityEngine judges the health of a token's buy-side flow: pressure,
// breadth of the buyer base, and whether momentum is building or fading.
type BuyQualityEngine struct{}

func NewBuyQualityEngine() *BuyQualityEngine { return &BuyQualityEngine{} }

func (e *BuyQualityEngine) Name() string { return NameBuyQuality }

func (e *BuyQualityEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if snap == nil || snap.Buys24h+snap.Sells24h == 0 {
		return Neutral(NameBuyQuality)
	}

	res := Result{Engine: NameBuyQuality, MaxScore: 100}

	// Buy pressure: 40 points, linear from ratio 0.3 up to 0.8.
	ratio := snap.BuyRatio()
	res.Score += clamp((ratio-0.3)/0.5, 0, 1) * 40
	if ratio >= 0.65 {
		res.Flags = append(res.Flags, FlagStrongBuyPressure)
	} else if ratio < 0.45 {
		res.Flags = append(res.Flags, FlagSellPressure)
		res.Evidence = append(res.Evidence, fmt.Sprintf("buy ratio %.2f", ratio))
	}

	// Buyer breadth: 30 points for a diverse buyer base.
	if aux != nil && len(aux.Trades) > 0 {
		buyers := make(map[string]struct{})
		buys := 0
		for _, t := range aux.Trades {
			if t.Side == token.SideBuy {
				buys++
				buyers[t.Wallet] = struct{}{}
			}
		}
		if buys > 0 {
			breadth := float64(len(buyers)) / float64(buys)
			res.Score += breadth * 30
			if breadth < 0.3 {
				res.Flags = append(res.Flags, FlagThinBuyerBase)
				res.Evidence = append(res.Evidence,
					fmt.Sprintf("%d buyers behind %d buys", len(buyers), buys))
			}
		}
	} else {
		res.Score += 15 // no trade detail: assume midpoint breadth
	}

	// Momentum: 30 points when the 5m buy rate outpaces the 24h baseline.
	res.Score += momentumPoints(snap)
	if momentumPoints(snap) >= 22 {
		res.Flags = append(res.Flags, FlagAccelerating)
	}

	res.Score = clamp(res.Score, 0, 100)
	return res
}

func momentumPoints(snap *token.Snapshot) float64 {
	total5m := snap.Buys5m + snap.Sells5m
	if total5m == 0 || snap.Buys24h == 0 {
		return 15
	}
	// Expected 5m buys if the 24h flow were uniform.
	expected := float64(snap.Buys24h) / 288.0
	if expected == 0 {
		return 15
	}
	accel := float64(snap.Buys5m) / expected
	switch {
	case accel >= 3:
		return 30
	case accel >= 1.5:
		return 22
	case accel >= 0.75:
		return 15
	default:
		return 5
	}
}
