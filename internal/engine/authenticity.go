package engine

import (
	"fmt"
	"math"

	"github.com/dexintel/sentinel/internal/token"
)

// Authenticity flags.
const (
	FlagWashTrading     Flag = "WASH_TRADING"
	FlagUniformSizes    Flag = "UNIFORM_TRADE_SIZES"
	FlagLowDiversity    Flag = "LOW_WALLET_DIVERSITY"
	FlagVolumeMismatch  Flag = "VOLUME_HOLDER_MISMATCH"
	FlagPingPongTrading Flag = "PING_PONG_TRADING"
)

// AuthenticityEngine estimates how much of a token's volume is organic.
// High score = authentic activity; low score = manufactured volume.
type AuthenticityEngine struct{}

func NewAuthenticityEngine() *AuthenticityEngine { return &AuthenticityEngine{} }

func (e *AuthenticityEngine) Name() string { return NameAuthenticity }

func (e *AuthenticityEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if snap == nil || aux == nil || len(aux.Trades) < 5 {
		return Neutral(NameAuthenticity)
	}

	res := Result{Engine: NameAuthenticity, Score: 100, MaxScore: 100}

	byWallet := make(map[string][]token.Trade, len(aux.Trades))
	for _, t := range aux.Trades {
		byWallet[t.Wallet] = append(byWallet[t.Wallet], t)
	}

	// Wallet diversity: few wallets producing many trades is the cheapest
	// wash pattern to spot.
	diversity := float64(len(byWallet)) / float64(len(aux.Trades))
	if diversity < 0.2 {
		res.Score -= 35
		res.Flags = append(res.Flags, FlagLowDiversity)
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("%d wallets produced %d trades", len(byWallet), len(aux.Trades)))
	} else if diversity < 0.4 {
		res.Score -= 15
	}

	// Ping-pong: wallets that both buy and sell within the trade window.
	pingPong := 0
	for _, trades := range byWallet {
		var buys, sells int
		for _, t := range trades {
			if t.Side == token.SideBuy {
				buys++
			} else {
				sells++
			}
		}
		if buys > 0 && sells > 0 {
			pingPong++
		}
	}
	if frac := float64(pingPong) / float64(len(byWallet)); frac > 0.5 {
		res.Score -= 30
		res.Flags = append(res.Flags, FlagPingPongTrading, FlagWashTrading)
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("%.0f%% of wallets trade both directions", frac*100))
	} else if frac > 0.3 {
		res.Score -= 15
		res.Flags = append(res.Flags, FlagPingPongTrading)
	}

	// Size uniformity: bot volume clusters tightly around one trade size.
	if cv := tradeSizeCV(aux.Trades); cv >= 0 && cv < 0.15 {
		res.Score -= 25
		res.Flags = append(res.Flags, FlagUniformSizes)
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("trade size variation coefficient %.2f", cv))
	} else if cv >= 0 && cv < 0.35 {
		res.Score -= 10
	}

	// Volume out of all proportion to the holder base.
	if snap.HolderCount > 0 {
		vol, _ := snap.Volume24hUSD.Float64()
		perHolder := vol / float64(snap.HolderCount)
		if perHolder > 10_000 {
			res.Score -= 20
			res.Flags = append(res.Flags, FlagVolumeMismatch)
		} else if perHolder > 5_000 {
			res.Score -= 10
		}
	}

	res.Score = clamp(res.Score, 0, 100)
	return res
}

// tradeSizeCV returns the coefficient of variation of trade sizes, or -1
// when it cannot be computed.
func tradeSizeCV(trades []token.Trade) float64 {
	if len(trades) < 2 {
		return -1
	}
	var sum float64
	sizes := make([]float64, 0, len(trades))
	for _, t := range trades {
		v, _ := t.AmountUSD.Float64()
		sizes = append(sizes, v)
		sum += v
	}
	mean := sum / float64(len(sizes))
	if mean == 0 {
		return -1
	}
	var sq float64
	for _, v := range sizes {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(sizes))) / mean
}
