package ads

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/db/option"
	"github.com/Maelsh/dueli/pkg/errutil"
	"github.com/Maelsh/dueli/pkg/repository"
	"github.com/Maelsh/dueli/services/challenge"
	"github.com/Maelsh/dueli/services/room"
)

var (
	ErrNotFound       = errutil.NotFound("advertisement binding not found", nil)
	ErrAlreadyBound   = errutil.Conflict("advertisement is already bound to this challenge", nil)
	ErrNotAssignable  = errutil.Conflict("challenge is not accepting advertisements", nil)
	ErrNotDisplayable = errutil.Conflict("binding cannot be marked displayed", nil)
	ErrNotRejectable  = errutil.Conflict("binding cannot be rejected", nil)
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	broadcaster room.Broadcaster

	bindings   repository.Repository[Binding]
	challenges repository.Repository[challenge.Challenge]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Broadcaster room.Broadcaster
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		broadcaster: p.Broadcaster,
		bindings:    repository.ProvideStore[Binding](p.DB),
		challenges:  repository.ProvideStore[challenge.Challenge](p.DB),
	}
}

type AssignRequest struct {
	AdID        string
	ChallengeID string
	DisplayTime *time.Time
	PaidAmount  float64
}

// Assign binds an advertisement to a challenge that is scheduled or live.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (*Binding, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("ad_id", req.AdID),
		zap.String("challenge_id", req.ChallengeID),
	)

	if req.AdID == "" {
		return nil, errutil.ValidationFailed("ad_id is required", nil)
	}
	if req.ChallengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	if req.PaidAmount < 0 {
		return nil, errutil.ValidationFailed("paid_amount cannot be negative", nil)
	}

	var out *Binding
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ch, err := s.challenges.WithTrx(tx).FindOne(ctx, &challenge.Challenge{ID: req.ChallengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return challenge.ErrNotFound
		}
		if ch.Status != challenge.StatusScheduled && ch.Status != challenge.StatusLive {
			return ErrNotAssignable
		}

		existing, err := s.bindings.WithTrx(tx).FindOne(ctx, &Binding{
			AdID:        req.AdID,
			ChallengeID: req.ChallengeID,
		})
		if err != nil {
			return errutil.Internal("failed to query binding", err)
		}

		if existing != nil {
			if existing.Status != StatusPending {
				return ErrAlreadyBound
			}
			if err := s.bindings.WithTrx(tx).Update(ctx, existing.ID, map[string]any{
				"status":       StatusAssigned,
				"display_time": req.DisplayTime,
				"paid_amount":  req.PaidAmount,
			}); err != nil {
				return errutil.Internal("failed to assign binding", err)
			}
			existing.Status = StatusAssigned
			existing.DisplayTime = req.DisplayTime
			existing.PaidAmount = req.PaidAmount
			out = existing
			return nil
		}

		out = &Binding{
			ID:          s.node.Generate().String(),
			AdID:        req.AdID,
			ChallengeID: req.ChallengeID,
			DisplayTime: req.DisplayTime,
			PaidAmount:  req.PaidAmount,
			Status:      StatusAssigned,
		}
		if err := s.bindings.WithTrx(tx).Create(ctx, out); err != nil {
			return errutil.Internal("failed to create binding", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("advertisement assigned", zap.Float64("paid_amount", out.PaidAmount))
	return out, nil
}

// MarkDisplayed records that an assigned advertisement actually aired during
// the live session, which is what qualifies it for revenue.
func (s *Service) MarkDisplayed(ctx context.Context, bindingID string) (*Binding, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("binding_id", bindingID),
	)

	if bindingID == "" {
		return nil, ErrNotFound
	}

	var out *Binding
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		b, err := s.bindings.WithTrx(tx).FindOne(ctx, &Binding{ID: bindingID})
		if err != nil {
			return errutil.Internal("failed to query binding", err)
		}
		if b == nil {
			return ErrNotFound
		}

		ch, err := s.challenges.WithTrx(tx).FindOne(ctx, &challenge.Challenge{ID: b.ChallengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return challenge.ErrNotFound
		}
		if ch.Status != challenge.StatusLive {
			return challenge.ErrNotLive
		}
		if b.Status != StatusAssigned {
			return ErrNotDisplayable
		}

		now := time.Now().UTC()
		if err := s.bindings.WithTrx(tx).Update(ctx, b.ID, map[string]any{
			"status":       StatusDisplayed,
			"display_time": now,
		}); err != nil {
			return errutil.Internal("failed to mark binding displayed", err)
		}
		b.Status = StatusDisplayed
		b.DisplayTime = &now
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(out.ChallengeID, room.AdDisplayEvent{AdID: out.AdID})

	zapLog.Info("advertisement displayed", zap.String("ad_id", out.AdID))
	return out, nil
}

// Reject lets a participant veto an assigned or already-displayed ad during
// the live session. Rejected ads never contribute to revenue, even when they
// aired first.
func (s *Service) Reject(ctx context.Context, bindingID, participantID, reason string) (*Binding, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("binding_id", bindingID),
		zap.String("participant_id", participantID),
	)

	if bindingID == "" {
		return nil, ErrNotFound
	}

	var out *Binding
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		b, err := s.bindings.WithTrx(tx).FindOne(ctx, &Binding{ID: bindingID})
		if err != nil {
			return errutil.Internal("failed to query binding", err)
		}
		if b == nil {
			return ErrNotFound
		}

		ch, err := s.challenges.WithTrx(tx).FindOne(ctx, &challenge.Challenge{ID: b.ChallengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return challenge.ErrNotFound
		}
		if ch.Status != challenge.StatusLive {
			return challenge.ErrNotLive
		}
		if !ch.IsParticipant(participantID) {
			return challenge.ErrNotParticipant
		}
		if b.Status != StatusAssigned && b.Status != StatusDisplayed {
			return ErrNotRejectable
		}

		if err := s.bindings.WithTrx(tx).Update(ctx, b.ID, map[string]any{
			"status":           StatusRejected,
			"rejected_by":      participantID,
			"rejection_reason": reason,
		}); err != nil {
			return errutil.Internal("failed to reject binding", err)
		}
		b.Status = StatusRejected
		b.RejectedBy = participantID
		b.RejectionReason = reason
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(out.ChallengeID, room.AdRejectedEvent{
		AdID:       out.AdID,
		RejectedBy: participantID,
		Reason:     reason,
	})

	zapLog.Info("advertisement rejected", zap.String("ad_id", out.AdID))
	return out, nil
}

// List returns every binding for a challenge, oldest first.
func (s *Service) List(ctx context.Context, challengeID string) ([]*Binding, error) {
	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	return s.bindings.Find(ctx, &Binding{ChallengeID: challengeID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "ASC"}),
	)
}
