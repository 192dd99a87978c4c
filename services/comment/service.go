package comment

import (
	"context"

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

const maxBodyLength = 500

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	broadcaster room.Broadcaster

	comments   repository.Repository[Comment]
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
		comments:    repository.ProvideStore[Comment](p.DB),
		challenges:  repository.ProvideStore[challenge.Challenge](p.DB),
	}
}

// Post appends a comment to a live challenge's feed and fans it out to the
// room.
func (s *Service) Post(ctx context.Context, challengeID, authorID, body string) (*Comment, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("challenge_id", challengeID),
		zap.String("author_id", authorID),
	)

	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	if authorID == "" {
		return nil, errutil.ValidationFailed("author_id is required", nil)
	}
	if len(body) == 0 || len(body) > maxBodyLength {
		return nil, errutil.ValidationFailed("body must be between 1 and 500 characters", nil)
	}

	ch, err := s.challenges.FindOne(ctx, &challenge.Challenge{ID: challengeID})
	if err != nil {
		return nil, errutil.Internal("failed to query challenge", err)
	}
	if ch == nil {
		return nil, challenge.ErrNotFound
	}
	if ch.Status != challenge.StatusLive {
		return nil, challenge.ErrNotLive
	}

	c := &Comment{
		ID:          s.node.Generate().String(),
		ChallengeID: challengeID,
		AuthorID:    authorID,
		Body:        body,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		zapLog.Error("failed to create comment", zap.Error(err))
		return nil, errutil.Internal("failed to create comment", err)
	}

	s.broadcaster.Publish(challengeID, room.CommentAddedEvent{
		ChallengeID: challengeID,
		CommentID:   c.ID,
		AuthorID:    c.AuthorID,
		Body:        c.Body,
		CreatedAt:   c.CreatedAt,
	})

	return c, nil
}

// List returns a challenge's comments, oldest first.
func (s *Service) List(ctx context.Context, challengeID string, limit int) ([]*Comment, error) {
	if challengeID == "" {
		return nil, errutil.ValidationFailed("challenge_id is required", nil)
	}
	return s.comments.Find(ctx, &Comment{ChallengeID: challengeID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "ASC"}),
		option.ApplyLimit(limit),
	)
}
