package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Maelsh/dueli/pkg/middleware"
	"github.com/Maelsh/dueli/services/ads"
)

type assignAdRequest struct {
	AdID        string     `json:"adId" binding:"required"`
	DisplayTime *time.Time `json:"displayTime"`
	PaidAmount  float64    `json:"paidAmount"`
}

func (h *Handler) assignAd(c *gin.Context) {
	var req assignAdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.ads.Assign(c.Request.Context(), ads.AssignRequest{
		AdID:        req.AdID,
		ChallengeID: c.Param("id"),
		DisplayTime: req.DisplayTime,
		PaidAmount:  req.PaidAmount,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) listAds(c *gin.Context) {
	list, err := h.ads.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": list})
}

func (h *Handler) markAdDisplayed(c *gin.Context) {
	b, err := h.ads.MarkDisplayed(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type rejectAdRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) rejectAd(c *gin.Context) {
	var req rejectAdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.ads.Reject(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}
