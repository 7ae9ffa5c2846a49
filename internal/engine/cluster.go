package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// Cluster flags.
const (
	FlagWalletCluster  Flag = "WALLET_CLUSTER"
	FlagCommonFunding  Flag = "COMMON_FUNDING_SOURCE"
	FlagCoordinatedBuy Flag = "COORDINATED_BUYING"
)

// Cluster is a group of wallets judged to act as one entity.
type Cluster struct {
	Wallets   []string `json:"wallets"`
	FundedBy  string   `json:"funded_by,omitempty"`
	SupplyPct float64  `json:"supply_pct"`
	Reason    string   `json:"reason"`
}

// ClusterEngine groups holder wallets that share a funding source, or that
// bought in a tight time window with near-identical sizes. Clusters holding
// meaningful supply drag the score down: supply that looks distributed is
// really in one pair of hands.
type ClusterEngine struct {
	cfg config.ClusterConfig
}

func NewClusterEngine(cfg config.ClusterConfig) *ClusterEngine {
	return &ClusterEngine{cfg: cfg}
}

func (e *ClusterEngine) Name() string { return NameCluster }

func (e *ClusterEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if aux == nil || len(aux.TopHolders) < e.cfg.MinClusterSize {
		return Neutral(NameCluster)
	}

	clusters := e.Detect(aux)
	res := Result{Engine: NameCluster, Score: 100, MaxScore: 100}
	if len(clusters) == 0 {
		return res
	}

	var clusteredPct float64
	for _, c := range clusters {
		clusteredPct += c.SupplyPct
		if c.FundedBy != "" {
			res.Flags = appendUnique(res.Flags, FlagCommonFunding)
		} else {
			res.Flags = appendUnique(res.Flags, FlagCoordinatedBuy)
		}
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("%d wallets, %.1f%% of supply: %s", len(c.Wallets), c.SupplyPct, c.Reason))
	}
	res.Flags = appendUnique(res.Flags, FlagWalletCluster)

	// 1.5 points off per clustered supply percent, plus a flat penalty per
	// extra cluster beyond the first.
	res.Score -= clusteredPct * 1.5
	res.Score -= float64(len(clusters)-1) * 10
	res.Score = clamp(res.Score, 0, 100)
	return res
}

// Detect returns all wallet clusters of at least the configured minimum
// size, first by shared funding source, then by coordinated buy timing.
func (e *ClusterEngine) Detect(aux *token.Aux) []Cluster {
	var clusters []Cluster
	claimed := make(map[string]bool)

	// Pass 1: wallets funded by the same source.
	byFunder := make(map[string][]token.Holder)
	for _, h := range aux.TopHolders {
		if h.FundedBy != "" {
			byFunder[h.FundedBy] = append(byFunder[h.FundedBy], h)
		}
	}
	funders := make([]string, 0, len(byFunder))
	for f := range byFunder {
		funders = append(funders, f)
	}
	sort.Strings(funders)
	for _, f := range funders {
		group := byFunder[f]
		if len(group) < e.cfg.MinClusterSize {
			continue
		}
		c := Cluster{FundedBy: f, Reason: "shared funding source"}
		for _, h := range group {
			c.Wallets = append(c.Wallets, h.Wallet)
			c.SupplyPct += h.SupplyPct
			claimed[h.Wallet] = true
		}
		clusters = append(clusters, c)
	}

	// Pass 2: coordinated entries - unclaimed wallets whose first trades
	// land inside the timing window with similar position sizes.
	var rest []token.Holder
	for _, h := range aux.TopHolders {
		if !claimed[h.Wallet] && !h.FirstTrade.IsZero() {
			rest = append(rest, h)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].FirstTrade.Before(rest[j].FirstTrade)
	})
	window := time.Duration(e.cfg.TimingWindowS) * time.Second
	for i := 0; i < len(rest); {
		j := i + 1
		for j < len(rest) && rest[j].FirstTrade.Sub(rest[i].FirstTrade) <= window {
			j++
		}
		group := rest[i:j]
		if len(group) >= e.cfg.MinClusterSize && similarSizes(group, e.cfg.SizeSimilarityPct) {
			c := Cluster{Reason: "coordinated entry timing and size"}
			for _, h := range group {
				c.Wallets = append(c.Wallets, h.Wallet)
				c.SupplyPct += h.SupplyPct
			}
			clusters = append(clusters, c)
			i = j
			continue
		}
		i++
	}

	return clusters
}

// similarSizes reports whether every position in the group sits within
// tolerancePct of the group mean.
func similarSizes(group []token.Holder, tolerancePct float64) bool {
	var sum float64
	for _, h := range group {
		v, _ := h.ValueUSD.Float64()
		sum += v
	}
	mean := sum / float64(len(group))
	if mean == 0 {
		return false
	}
	for _, h := range group {
		v, _ := h.ValueUSD.Float64()
		if math.Abs(v-mean)/mean*100 > tolerancePct {
			return false
		}
	}
	return true
}
