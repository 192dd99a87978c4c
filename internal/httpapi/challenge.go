package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/Maelsh/dueli/pkg/db/pagination"
	"github.com/Maelsh/dueli/pkg/middleware"
	"github.com/Maelsh/dueli/services/challenge"
)

type createChallengeRequest struct {
	Title         string         `json:"title" binding:"required"`
	ScheduledTime *time.Time     `json:"scheduledTime"`
	Metadata      datatypes.JSON `json:"metadata"`
}

func (h *Handler) createChallenge(c *gin.Context) {
	var req createChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, err := h.challenges.Create(c.Request.Context(), challenge.CreateRequest{
		CreatorID:     middleware.UserID(c),
		Title:         req.Title,
		ScheduledTime: req.ScheduledTime,
		Metadata:      req.Metadata,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *Handler) getChallenge(c *gin.Context) {
	ch, err := h.challenges.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handler) listChallenges(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, pageInfo, err := h.challenges.List(c.Request.Context(), challenge.ListRequest{
		Status:     challenge.Status(c.Query("status")),
		CreatorID:  c.Query("creator_id"),
		Pagination: page,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list, "page_info": pageInfo})
}

func (h *Handler) acceptOpponent(c *gin.Context) {
	ch, err := h.challenges.AcceptOpponent(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handler) startChallenge(c *gin.Context) {
	ch, err := h.challenges.Start(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handler) endChallenge(c *gin.Context) {
	ch, err := h.challenges.End(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handler) cancelChallenge(c *gin.Context) {
	ch, err := h.challenges.Cancel(c.Request.Context(), c.Param("id"), middleware.UserID(c), privileged(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handler) listTransactions(c *gin.Context) {
	list, err := h.revenue.Transactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}
