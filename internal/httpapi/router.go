package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/health"
	"github.com/Maelsh/dueli/pkg/middleware"
	"github.com/Maelsh/dueli/services/ads"
	"github.com/Maelsh/dueli/services/challenge"
	"github.com/Maelsh/dueli/services/comment"
	"github.com/Maelsh/dueli/services/rating"
	"github.com/Maelsh/dueli/services/revenue"
	"github.com/Maelsh/dueli/services/room"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, NewRouter),
)

type Handler struct {
	challenges *challenge.Service
	ratings    *rating.Service
	ads        *ads.Service
	comments   *comment.Service
	revenue    *revenue.Distributor
	rooms      *room.Registry
}

type HandlerParams struct {
	fx.In
	Challenges *challenge.Service
	Ratings    *rating.Service
	Ads        *ads.Service
	Comments   *comment.Service
	Revenue    *revenue.Distributor
	Rooms      *room.Registry
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		challenges: p.Challenges,
		ratings:    p.Ratings,
		ads:        p.Ads,
		comments:   p.Comments,
		revenue:    p.Revenue,
		rooms:      p.Rooms,
	}
}

type RouterParams struct {
	fx.In
	Config  *config.Config
	Handler *Handler
	Health  health.HealthService
}

// NewRouter wires every inbound command onto the gin engine. Identity
// arrives pre-authenticated in the X-USER-ID header; the router only
// forwards it.
func NewRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Identity(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	h := p.Handler
	v1 := r.Group("/v1")
	{
		v1.POST("/challenges", h.createChallenge)
		v1.GET("/challenges", h.listChallenges)
		v1.GET("/challenges/:id", h.getChallenge)
		v1.POST("/challenges/:id/accept", h.acceptOpponent)
		v1.POST("/challenges/:id/start", h.startChallenge)
		v1.POST("/challenges/:id/end", h.endChallenge)
		v1.POST("/challenges/:id/cancel", h.cancelChallenge)
		v1.GET("/challenges/:id/transactions", h.listTransactions)

		v1.POST("/challenges/:id/ratings", h.submitRating)
		v1.DELETE("/ratings/:id", h.deleteRating)

		v1.POST("/challenges/:id/ads", h.assignAd)
		v1.GET("/challenges/:id/ads", h.listAds)
		v1.POST("/ads/:id/display", h.markAdDisplayed)
		v1.POST("/ads/:id/reject", h.rejectAd)

		v1.POST("/challenges/:id/comments", h.postComment)
		v1.GET("/challenges/:id/comments", h.listComments)

		v1.GET("/challenges/:id/room", h.joinRoom)
	}

	return r
}

// privileged reports whether the upstream gateway marked the caller as a
// moderator or administrator.
func privileged(c *gin.Context) bool {
	role := c.GetHeader("X-USER-ROLE")
	return role == "moderator" || role == "admin"
}
