package rating

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/db/option"
	"github.com/Maelsh/dueli/pkg/errutil"
	"github.com/Maelsh/dueli/pkg/repository"
	"github.com/Maelsh/dueli/services/challenge"
	"github.com/Maelsh/dueli/services/room"
)

var (
	ErrNotFound           = errutil.NotFound("rating not found", nil)
	ErrScoreOutOfRange    = errutil.ValidationFailed("score is out of range", nil)
	ErrInvalidParticipant = errutil.UnprocessableEntity("rated participant is not part of the challenge", nil)
	ErrSelfRating         = errutil.Forbidden("participants cannot rate their own challenge", nil)
	ErrNotRater           = errutil.Forbidden("only the rater or an administrator may delete a rating", nil)
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config

	broadcaster room.Broadcaster

	ratings    repository.Repository[Rating]
	challenges repository.Repository[challenge.Challenge]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Broadcaster room.Broadcaster
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		config:      p.Config,
		broadcaster: p.Broadcaster,
		ratings:     repository.ProvideStore[Rating](p.DB),
		challenges:  repository.ProvideStore[challenge.Challenge](p.DB),
	}
}

type SubmitRequest struct {
	ChallengeID   string
	RaterID       string
	ParticipantID string
	Score         int64
}

// Submit records or overwrites the rater's score for a participant of a live
// challenge. The participant's accumulator is moved by a signed delta against
// the locked challenge row, so concurrent raters never lose an update.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Rating, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("challenge_id", req.ChallengeID),
		zap.String("rater_id", req.RaterID),
	)

	if req.ChallengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	if req.RaterID == "" {
		return nil, errutil.ValidationFailed("rater_id is required", nil)
	}
	if req.ParticipantID == "" {
		return nil, errutil.ValidationFailed("participant_id is required", nil)
	}
	if req.Score < s.config.Rating.MinScore || req.Score > s.config.Rating.MaxScore {
		return nil, ErrScoreOutOfRange
	}

	var (
		out *Rating
		ev  room.RatingsUpdateEvent
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ch, err := s.challenges.WithTrx(tx).FindOne(ctx, &challenge.Challenge{ID: req.ChallengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return challenge.ErrNotFound
		}
		if ch.Status != challenge.StatusLive {
			return challenge.ErrNotLive
		}

		role := ch.RoleOf(req.ParticipantID)
		if role == "" {
			return ErrInvalidParticipant
		}
		if ch.IsParticipant(req.RaterID) {
			return ErrSelfRating
		}

		existing, err := s.ratings.WithTrx(tx).FindOne(ctx, &Rating{
			ChallengeID:   req.ChallengeID,
			RaterID:       req.RaterID,
			ParticipantID: req.ParticipantID,
		})
		if err != nil {
			return errutil.Internal("failed to query rating", err)
		}

		var scoreDelta, countDelta int64
		if existing != nil {
			scoreDelta = req.Score - existing.Score
			if err := s.ratings.WithTrx(tx).Update(ctx, existing.ID, map[string]any{
				"score": req.Score,
			}); err != nil {
				return errutil.Internal("failed to overwrite rating", err)
			}
			existing.Score = req.Score
			out = existing
		} else {
			scoreDelta = req.Score
			countDelta = 1
			out = &Rating{
				ID:            s.node.Generate().String(),
				ChallengeID:   req.ChallengeID,
				RaterID:       req.RaterID,
				ParticipantID: req.ParticipantID,
				Score:         req.Score,
			}
			if err := s.ratings.WithTrx(tx).Create(ctx, out); err != nil {
				return errutil.Internal("failed to create rating", err)
			}
		}

		if err := s.applyDelta(ctx, tx, ch.ID, role, scoreDelta, countDelta); err != nil {
			return err
		}

		ev = buildRatingsUpdate(ch, role, scoreDelta, countDelta)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(req.ChallengeID, ev)

	zapLog.Info("rating submitted",
		zap.String("participant_id", req.ParticipantID),
		zap.Int64("score", req.Score),
	)
	return out, nil
}

// Delete removes a rating and rolls its contribution back out of the
// participant's accumulator. Only the rater themselves or an administrator
// may delete, and only while the challenge is still live; once revenue has
// been distributed the accumulators are frozen.
func (s *Service) Delete(ctx context.Context, ratingID, requesterID string, admin bool) error {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("rating_id", ratingID),
		zap.String("requester_id", requesterID),
	)

	if ratingID == "" {
		return ErrNotFound
	}

	var (
		challengeID string
		ev          room.RatingsUpdateEvent
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		r, err := s.ratings.WithTrx(tx).FindOne(ctx, &Rating{ID: ratingID})
		if err != nil {
			return errutil.Internal("failed to query rating", err)
		}
		if r == nil {
			return ErrNotFound
		}
		if !admin && requesterID != r.RaterID {
			return ErrNotRater
		}

		ch, err := s.challenges.WithTrx(tx).FindOne(ctx, &challenge.Challenge{ID: r.ChallengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return challenge.ErrNotFound
		}
		if ch.Status != challenge.StatusLive {
			return challenge.ErrNotLive
		}

		role := ch.RoleOf(r.ParticipantID)
		if role == "" {
			return ErrInvalidParticipant
		}

		if err := s.ratings.WithTrx(tx).Delete(ctx, r.ID); err != nil {
			return errutil.Internal("failed to delete rating", err)
		}
		if err := s.applyDelta(ctx, tx, ch.ID, role, -r.Score, -1); err != nil {
			return err
		}

		challengeID = ch.ID
		ev = buildRatingsUpdate(ch, role, -r.Score, -1)
		return nil
	})
	if err != nil {
		return err
	}

	s.broadcaster.Publish(challengeID, ev)

	zapLog.Info("rating deleted")
	return nil
}

// applyDelta moves the participant's accumulator atomically in the store;
// the columns are never rewritten from a read value.
func (s *Service) applyDelta(ctx context.Context, tx *gorm.DB, challengeID string, role challenge.Role, scoreDelta, countDelta int64) error {
	if scoreDelta == 0 && countDelta == 0 {
		return nil
	}

	sumCol, countCol := accumulatorColumns(role)
	values := map[string]any{}
	if scoreDelta != 0 {
		values[sumCol] = gorm.Expr(sumCol+" + ?", scoreDelta)
	}
	if countDelta != 0 {
		values[countCol] = gorm.Expr(countCol+" + ?", countDelta)
	}

	if err := s.challenges.WithTrx(tx).Update(ctx, challengeID, values); err != nil {
		return errutil.Internal("failed to update rating accumulator", err)
	}
	return nil
}

func accumulatorColumns(role challenge.Role) (sumCol, countCol string) {
	if role == challenge.RoleCreator {
		return "creator_rating_sum", "creator_rating_count"
	}
	return "opponent_rating_sum", "opponent_rating_count"
}

// buildRatingsUpdate derives the post-delta aggregate snapshot from the
// challenge row that was locked for this transaction.
func buildRatingsUpdate(ch *challenge.Challenge, role challenge.Role, scoreDelta, countDelta int64) room.RatingsUpdateEvent {
	sum := ch.CreatorRatingSum
	count := ch.CreatorRatingCount
	if role == challenge.RoleOpponent {
		sum = ch.OpponentRatingSum
		count = ch.OpponentRatingCount
	}
	sum += scoreDelta
	count += countDelta

	total := ch.TotalScore() + scoreDelta

	var average float64
	if count > 0 {
		average = float64(sum) / float64(count)
	}
	var pct float64
	if total > 0 {
		pct = float64(sum) / float64(total) * 100
	}

	return room.RatingsUpdateEvent{
		ChallengeID:       ch.ID,
		Participant:       string(role),
		Sum:               sum,
		Count:             count,
		Average:           average,
		PercentageOfTotal: pct,
	}
}
