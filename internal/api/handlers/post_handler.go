package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/optiplay/backend/internal/api/middleware"
	"github.com/optiplay/backend/internal/services"
)

type PostHandler struct {
	service *services.PostService
}

func NewPostHandler(service *services.PostService) *PostHandler {
	return &PostHandler{service: service}
}

type CreatePostRequest struct {
	Title        string `json:"title" binding:"required,max=200"`
	Body         string `json:"body" binding:"required,max=20000"`
	AllowLinks   bool   `json:"allow_links"`
	OverrideFlag bool   `json:"override_flag"`
}

type CreateCommentRequest struct {
	Body         string `json:"body" binding:"required,max=5000"`
	OverrideFlag bool   `json:"override_flag"`
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return uint(id), true
}

func (h *PostHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	posts, err := h.service.ListPosts(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (h *PostHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	post, err := h.service.GetPost(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) Create(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.service.CreatePost(c.Request.Context(), middleware.CurrentUserID(c), services.PostInput{
		Title:      req.Title,
		Body:       req.Body,
		AllowLinks: req.AllowLinks,
		Override:   req.OverrideFlag,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *PostHandler) CreateComment(c *gin.Context) {
	postID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.service.CreateComment(c.Request.Context(), middleware.CurrentUserID(c), postID, services.CommentInput{
		Body:     req.Body,
		Override: req.OverrideFlag,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}
