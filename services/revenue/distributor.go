package revenue

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/errutil"
	"github.com/Maelsh/dueli/pkg/repository"
	"github.com/Maelsh/dueli/pkg/sequence"
	"github.com/Maelsh/dueli/services/ads"
	"github.com/Maelsh/dueli/services/challenge"
)

// PlatformCut is the platform's fixed fraction of a challenge's ad revenue.
const PlatformCut = 0.20

// Shares is the computed split for one challenge, before persistence.
type Shares struct {
	TotalRevenue float64
	Platform     float64
	Creator      float64
	Opponent     float64

	// rating fractions used for the split, as percentages
	CreatorPercentage  float64
	OpponentPercentage float64
}

// ComputeShares splits totalRevenue between the platform and the two
// participants in proportion to their rating sums. The opponent takes the
// remainder of the competitors' share so the three parts always sum back to
// totalRevenue. With no ratings at all the competitors split evenly.
func ComputeShares(totalRevenue float64, creatorSum, opponentSum int64) Shares {
	platform := totalRevenue * PlatformCut
	competitors := totalRevenue - platform

	totalScore := creatorSum + opponentSum
	if totalScore <= 0 {
		return Shares{
			TotalRevenue:       totalRevenue,
			Platform:           platform,
			Creator:            competitors / 2,
			Opponent:           competitors / 2,
			CreatorPercentage:  50,
			OpponentPercentage: 50,
		}
	}

	creatorFrac := float64(creatorSum) / float64(totalScore)
	creator := competitors * creatorFrac
	return Shares{
		TotalRevenue:       totalRevenue,
		Platform:           platform,
		Creator:            creator,
		Opponent:           competitors - creator,
		CreatorPercentage:  creatorFrac * 100,
		OpponentPercentage: 100 - creatorFrac*100,
	}
}

// Distributor persists the one-time revenue split when a challenge ends. It
// always runs inside the end transition's transaction, which is what makes
// the computation exactly-once: a second end fails before reaching it.
type Distributor struct {
	node *snowflake.Node
	seq  sequence.Generator

	bindings     repository.Repository[ads.Binding]
	transactions repository.Repository[Transaction]
}

type DistributorParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator
}

func NewDistributor(p DistributorParams) *Distributor {
	return &Distributor{
		node:         p.Node,
		seq:          p.Sequence,
		bindings:     repository.ProvideStore[ads.Binding](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

var _ challenge.RevenueDistributor = (*Distributor)(nil)

// Distribute sums the displayed ad bindings for ch, computes the split from
// the final rating snapshot and writes the two payout transactions through
// tx.
func (d *Distributor) Distribute(ctx context.Context, tx *gorm.DB, ch *challenge.Challenge) (*challenge.Distribution, error) {
	displayed, err := d.bindings.WithTrx(tx).Find(ctx, &ads.Binding{
		ChallengeID: ch.ID,
		Status:      ads.StatusDisplayed,
	})
	if err != nil {
		return nil, errutil.Internal("failed to query displayed ads", err)
	}

	var totalRevenue float64
	for _, b := range displayed {
		totalRevenue += b.PaidAmount
	}

	shares := ComputeShares(totalRevenue, ch.CreatorRatingSum, ch.OpponentRatingSum)

	records := []*Transaction{
		{
			ID:                    d.node.Generate().String(),
			ChallengeID:           ch.ID,
			ParticipantID:         ch.CreatorID,
			Role:                  string(challenge.RoleCreator),
			Amount:                shares.Creator,
			RatingPercentage:      shares.CreatorPercentage,
			TotalChallengeRevenue: totalRevenue,
		},
		{
			ID:                    d.node.Generate().String(),
			ChallengeID:           ch.ID,
			ParticipantID:         ch.OpponentID,
			Role:                  string(challenge.RoleOpponent),
			Amount:                shares.Opponent,
			RatingPercentage:      shares.OpponentPercentage,
			TotalChallengeRevenue: totalRevenue,
		},
	}
	for _, rec := range records {
		code, err := d.seq.NextTransactionCode(ctx)
		if err != nil {
			return nil, errutil.Internal("failed to generate transaction code", err)
		}
		rec.Code = code
	}

	if err := d.transactions.WithTrx(tx).BatchCreate(ctx, records); err != nil {
		return nil, errutil.Internal("failed to create payout transactions", err)
	}

	zap.L().Info("revenue distributed",
		zap.String("challenge_id", ch.ID),
		zap.Int("displayed_ads", len(displayed)),
		zap.Float64("total_revenue", totalRevenue),
		zap.Float64("platform", shares.Platform),
		zap.Float64("creator", shares.Creator),
		zap.Float64("opponent", shares.Opponent),
	)

	return &challenge.Distribution{
		TotalRevenue: totalRevenue,
		Platform:     shares.Platform,
		Creator:      shares.Creator,
		Opponent:     shares.Opponent,
	}, nil
}

// Transactions lists the payout records for a challenge.
func (d *Distributor) Transactions(ctx context.Context, challengeID string) ([]*Transaction, error) {
	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	return d.transactions.Find(ctx, &Transaction{ChallengeID: challengeID})
}
