package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Maelsh/dueli/pkg/middleware"
)

type postCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

func (h *Handler) postComment(c *gin.Context) {
	var req postCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cm, err := h.comments.Post(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Body)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (h *Handler) listComments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	list, err := h.comments.List(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": list})
}
