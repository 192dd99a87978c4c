package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Maelsh/dueli/pkg/middleware"
	"github.com/Maelsh/dueli/services/rating"
)

type submitRatingRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
	Score         int64  `json:"score" binding:"required"`
}

func (h *Handler) submitRating(c *gin.Context) {
	var req submitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.ratings.Submit(c.Request.Context(), rating.SubmitRequest{
		ChallengeID:   c.Param("id"),
		RaterID:       middleware.UserID(c),
		ParticipantID: req.ParticipantID,
		Score:         req.Score,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) deleteRating(c *gin.Context) {
	err := h.ratings.Delete(c.Request.Context(), c.Param("id"), middleware.UserID(c), privileged(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
