package challenge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/db/option"
	"github.com/Maelsh/dueli/pkg/db/pagination"
	"github.com/Maelsh/dueli/pkg/errutil"
	"github.com/Maelsh/dueli/pkg/repository"
	"github.com/Maelsh/dueli/pkg/sequence"
	"github.com/Maelsh/dueli/pkg/task"
	"github.com/Maelsh/dueli/pkg/taskname"
	"github.com/Maelsh/dueli/services/room"
	"github.com/Maelsh/dueli/services/streaming"
)

var (
	ErrNotFound         = errutil.NotFound("challenge not found", nil)
	ErrNotParticipant   = errutil.Forbidden("caller is not a challenge participant", nil)
	ErrNoOpponent       = errutil.UnprocessableEntity("challenge has no opponent", nil)
	ErrAlreadyLive      = errutil.Conflict("challenge is already live", nil)
	ErrAlreadyCompleted = errutil.Conflict("challenge is already completed", nil)
	ErrNotLive          = errutil.Conflict("challenge is not live", nil)
	ErrNotAuthorized    = errutil.Forbidden("caller is not authorized", nil)
	ErrCannotCancel     = errutil.Conflict("challenge can no longer be cancelled", nil)
	ErrOpponentTaken    = errutil.Conflict("challenge already has an opponent", nil)
	ErrSelfOpponent     = errutil.BadRequest("creator cannot be their own opponent", nil)
)

// Distribution is the one-time revenue split written at the live->completed
// transition.
type Distribution struct {
	TotalRevenue float64
	Platform     float64
	Creator      float64
	Opponent     float64
}

// RevenueDistributor computes and persists the revenue split for a challenge.
// Distribute runs inside the End transaction: it must write its transaction
// records through tx so that a failure rolls everything back together.
type RevenueDistributor interface {
	Distribute(ctx context.Context, tx *gorm.DB, ch *Challenge) (*Distribution, error)
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config
	seq    sequence.Generator

	provider    streaming.Provider
	broadcaster room.Broadcaster
	distributor RevenueDistributor
	asynq       task.Enqueuer

	locks *keyedMutex
	repo  repository.Repository[Challenge]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Sequence    sequence.Generator
	Provider    streaming.Provider
	Broadcaster room.Broadcaster
	Distributor RevenueDistributor
	Asynq       task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		config:      p.Config,
		seq:         p.Sequence,
		provider:    p.Provider,
		broadcaster: p.Broadcaster,
		distributor: p.Distributor,
		asynq:       p.Asynq,
		locks:       newKeyedMutex(),
		repo:        repository.ProvideStore[Challenge](p.DB),
	}
}

type CreateRequest struct {
	CreatorID     string
	Title         string
	ScheduledTime *time.Time
	Metadata      datatypes.JSON
}

// Create registers a new challenge. A scheduled time moves it straight to
// scheduled, otherwise it starts out pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Challenge, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if req.CreatorID == "" {
		return nil, errutil.ValidationFailed("creator_id is required", nil)
	}
	if req.Title == "" {
		return nil, errutil.ValidationFailed("title is required", nil)
	}

	code, err := s.seq.NextChallengeCode(ctx)
	if err != nil {
		zapLog.Error("failed to generate challenge code", zap.Error(err))
		return nil, errutil.Internal("failed to generate challenge code", err)
	}

	status := StatusPending
	if req.ScheduledTime != nil {
		status = StatusScheduled
	}

	ch := &Challenge{
		ID:            s.node.Generate().String(),
		Code:          code,
		Title:         req.Title,
		Slug:          slug.Make(req.Title),
		CreatorID:     req.CreatorID,
		Status:        status,
		ScheduledTime: req.ScheduledTime,
		Metadata:      req.Metadata,
	}

	if err := s.repo.Create(ctx, ch); err != nil {
		zapLog.Error("failed to create challenge", zap.Error(err))
		return nil, errutil.Internal("failed to create challenge", err)
	}

	zapLog.Info("challenge created",
		zap.String("challenge_id", ch.ID),
		zap.String("code", ch.Code),
		zap.String("status", string(ch.Status)),
	)
	return ch, nil
}

// AcceptOpponent assigns opponentID to an open challenge. Only valid before
// the challenge goes live, and only while the seat is empty.
func (s *Service) AcceptOpponent(ctx context.Context, challengeID, opponentID string) (*Challenge, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("challenge_id", challengeID),
	)

	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	if opponentID == "" {
		return nil, errutil.ValidationFailed("opponent_id is required", nil)
	}

	release := s.locks.Lock(challengeID)
	defer release()

	var out *Challenge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ch, err := s.repo.WithTrx(tx).FindOne(ctx, &Challenge{ID: challengeID})
		if err != nil {
			zapLog.Error("failed to query challenge", zap.Error(err))
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return ErrNotFound
		}
		if ch.Status != StatusPending && ch.Status != StatusScheduled {
			if ch.Status == StatusLive {
				return ErrAlreadyLive
			}
			return ErrAlreadyCompleted
		}
		if ch.OpponentID != "" {
			return ErrOpponentTaken
		}
		if opponentID == ch.CreatorID {
			return ErrSelfOpponent
		}

		if err := s.repo.WithTrx(tx).Update(ctx, ch.ID, map[string]any{
			"opponent_id": opponentID,
		}); err != nil {
			zapLog.Error("failed to assign opponent", zap.Error(err))
			return errutil.Internal("failed to assign opponent", err)
		}

		ch.OpponentID = opponentID
		out = ch
		return nil
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("opponent accepted", zap.String("opponent_id", opponentID))
	return out, nil
}

// Start moves the challenge to live. The streaming sessions for both
// participants are bootstrapped first; any provider failure aborts the
// transition and the challenge keeps its prior status.
func (s *Service) Start(ctx context.Context, challengeID, callerID string) (*Challenge, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("challenge_id", challengeID),
		zap.String("caller_id", callerID),
	)

	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}

	release := s.locks.Lock(challengeID)
	defer release()

	ch, err := s.repo.FindOne(ctx, &Challenge{ID: challengeID})
	if err != nil {
		zapLog.Error("failed to query challenge", zap.Error(err))
		return nil, errutil.Internal("failed to query challenge", err)
	}
	if ch == nil {
		return nil, ErrNotFound
	}
	if !ch.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if ch.Status == StatusLive {
		return nil, ErrAlreadyLive
	}
	if ch.Status.Terminal() {
		return nil, ErrAlreadyCompleted
	}
	if ch.OpponentID == "" {
		return nil, ErrNoOpponent
	}

	// Session bootstrap happens outside the transaction: it is the only slow
	// call in the transition and must not hold row locks. The keyed mutex
	// still keeps a second start for the same challenge out.
	creatorSession, err := s.provider.CreateSession(ctx, ch.CreatorID)
	if err != nil {
		zapLog.Error("failed to create creator streaming session", zap.Error(err))
		return nil, err
	}
	opponentSession, err := s.provider.CreateSession(ctx, ch.OpponentID)
	if err != nil {
		zapLog.Error("failed to create opponent streaming session", zap.Error(err))
		return nil, err
	}

	now := time.Now().UTC()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		cur, err := s.repo.WithTrx(tx).FindOne(ctx, &Challenge{ID: challengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if cur == nil {
			return ErrNotFound
		}
		if cur.Status != StatusPending && cur.Status != StatusScheduled {
			if cur.Status == StatusLive {
				return ErrAlreadyLive
			}
			return ErrAlreadyCompleted
		}

		return s.repo.WithTrx(tx).Update(ctx, cur.ID, map[string]any{
			"status":              StatusLive,
			"started_at":          now,
			"creator_embed_url":   creatorSession.EmbedURL,
			"creator_stream_key":  creatorSession.StreamKey,
			"opponent_embed_url":  opponentSession.EmbedURL,
			"opponent_stream_key": opponentSession.StreamKey,
		})
	})
	if err != nil {
		zapLog.Error("failed to commit start transition", zap.Error(err))
		return nil, err
	}

	ch.Status = StatusLive
	ch.StartedAt = &now
	ch.CreatorEmbedURL = creatorSession.EmbedURL
	ch.CreatorStreamKey = creatorSession.StreamKey
	ch.OpponentEmbedURL = opponentSession.EmbedURL
	ch.OpponentStreamKey = opponentSession.StreamKey

	s.broadcaster.Publish(ch.ID, room.ChallengeStatusChangedEvent{
		ChallengeID: ch.ID,
		Status:      string(StatusLive),
	})

	zapLog.Info("challenge started")
	return ch, nil
}

// End completes a live challenge. Status flip, revenue distribution and the
// resulting transaction records commit in one transaction; on any failure the
// challenge stays live and End is safe to retry.
func (s *Service) End(ctx context.Context, challengeID, callerID string) (*Challenge, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("challenge_id", challengeID),
		zap.String("caller_id", callerID),
	)

	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}

	release := s.locks.Lock(challengeID)
	defer release()

	var out *Challenge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ch, err := s.repo.WithTrx(tx).FindOne(ctx, &Challenge{ID: challengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return ErrNotFound
		}
		if !ch.IsParticipant(callerID) {
			return ErrNotParticipant
		}
		if ch.Status != StatusLive {
			return ErrNotLive
		}

		dist, err := s.distributor.Distribute(ctx, tx, ch)
		if err != nil {
			zapLog.Error("failed to distribute revenue", zap.Error(err))
			return err
		}

		now := time.Now().UTC()
		if err := s.repo.WithTrx(tx).Update(ctx, ch.ID, map[string]any{
			"status":           StatusCompleted,
			"ended_at":         now,
			"platform_revenue": dist.Platform,
			"creator_revenue":  dist.Creator,
			"opponent_revenue": dist.Opponent,
			"distributed_at":   now,
		}); err != nil {
			return errutil.Internal("failed to complete challenge", err)
		}

		ch.Status = StatusCompleted
		ch.EndedAt = &now
		ch.PlatformRevenue = dist.Platform
		ch.CreatorRevenue = dist.Creator
		ch.OpponentRevenue = dist.Opponent
		ch.DistributedAt = &now
		out = ch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(out.ID, room.ChallengeStatusChangedEvent{
		ChallengeID: out.ID,
		Status:      string(StatusCompleted),
	})

	s.enqueueAdsExpire(out.ID, zapLog)

	zapLog.Info("challenge completed",
		zap.Float64("platform_revenue", out.PlatformRevenue),
		zap.Float64("creator_revenue", out.CreatorRevenue),
		zap.Float64("opponent_revenue", out.OpponentRevenue),
	)
	return out, nil
}

// Cancel aborts a challenge that never went live. The creator may cancel
// their own challenge; moderators may cancel anyone's.
func (s *Service) Cancel(ctx context.Context, challengeID, callerID string, moderator bool) (*Challenge, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("challenge_id", challengeID),
		zap.String("caller_id", callerID),
	)

	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}

	release := s.locks.Lock(challengeID)
	defer release()

	var out *Challenge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ch, err := s.repo.WithTrx(tx).FindOne(ctx, &Challenge{ID: challengeID})
		if err != nil {
			return errutil.Internal("failed to query challenge", err)
		}
		if ch == nil {
			return ErrNotFound
		}
		if !moderator && callerID != ch.CreatorID {
			return ErrNotAuthorized
		}
		if ch.Status != StatusPending && ch.Status != StatusScheduled {
			return ErrCannotCancel
		}

		if err := s.repo.WithTrx(tx).Update(ctx, ch.ID, map[string]any{
			"status": StatusCancelled,
		}); err != nil {
			return errutil.Internal("failed to cancel challenge", err)
		}

		ch.Status = StatusCancelled
		out = ch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(out.ID, room.ChallengeStatusChangedEvent{
		ChallengeID: out.ID,
		Status:      string(StatusCancelled),
	})

	zapLog.Info("challenge cancelled")
	return out, nil
}

// Get fetches one challenge by ID.
func (s *Service) Get(ctx context.Context, challengeID string) (*Challenge, error) {
	if challengeID == "" {
		return nil, ErrNotFound
	}
	ch, err := s.repo.FindOne(ctx, &Challenge{ID: challengeID})
	if err != nil {
		return nil, errutil.Internal("failed to query challenge", err)
	}
	if ch == nil {
		return nil, ErrNotFound
	}
	return ch, nil
}

type ListRequest struct {
	Status     Status
	CreatorID  string
	Pagination pagination.Pagination
}

// List returns challenges filtered by status and creator, newest first.
// Pagination is cursor based over created_at.
func (s *Service) List(ctx context.Context, req ListRequest) ([]*Challenge, *pagination.PageInfo, error) {
	query := &Challenge{
		Status:    req.Status,
		CreatorID: req.CreatorID,
	}
	rows, err := s.repo.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "DESC"}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return nil, nil, err
	}

	limit := req.Pagination.Limit
	if limit <= 0 {
		limit = 10
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(c *Challenge) string {
		cursor, err := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: c.CreatedAt.Format(time.RFC3339Nano),
			ID:        c.ID,
		})
		if err != nil {
			return ""
		}
		return cursor
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, pageInfo, nil
}

type adsExpirePayload struct {
	ChallengeID string `json:"challenge_id"`
}

func (s *Service) enqueueAdsExpire(challengeID string, zapLog *zap.Logger) {
	payload, err := json.Marshal(adsExpirePayload{ChallengeID: challengeID})
	if err != nil {
		zapLog.Error("failed to marshal ads expire payload", zap.Error(err))
		return
	}
	if _, err := s.asynq.Enqueue(asynq.NewTask(taskname.AdsExpireLeftover, payload)); err != nil {
		// leftover bindings are cosmetic for revenue; completion already committed
		zapLog.Error("failed to enqueue ads expire task", zap.Error(err))
	}
}
