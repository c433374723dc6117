package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/postcard-capsule/internal/api/middleware"
	"github.com/d60-Lab/postcard-capsule/internal/service"
	"github.com/d60-Lab/postcard-capsule/internal/unlock"
	"github.com/d60-Lab/postcard-capsule/pkg/response"
)

type createPostcardRequest struct {
	RecipientID     string     `json:"recipient_id" binding:"omitempty,max=36"`
	Message         *string    `json:"message" binding:"omitempty,max=5000"`
	MediaURL        *string    `json:"media_url" binding:"omitempty,url,max=1024"`
	UnlockDate      *time.Time `json:"unlock_date"`
	UnlockLatitude  *float64   `json:"unlock_latitude"`
	UnlockLongitude *float64   `json:"unlock_longitude"`
	UnlockRadius    *float64   `json:"unlock_radius"`
}

func (r createPostcardRequest) input() service.CreateInput {
	return service.CreateInput{
		RecipientID: r.RecipientID,
		Message:     r.Message,
		MediaURL:    r.MediaURL,
		Unlock: unlock.Request{
			UnlockDate:      r.UnlockDate,
			UnlockLatitude:  r.UnlockLatitude,
			UnlockLongitude: r.UnlockLongitude,
			UnlockRadius:    r.UnlockRadius,
		},
	}
}

type geoCheckRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type geoCheckResponse struct {
	UnlockedCount int                 `json:"unlocked_count"`
	Unlocked      []service.GeoUnlock `json:"unlocked"`
}

// CreatePostcard 创建并锁定明信片
// @Summary 创建明信片
// @Description 时间锁与地理锁二选一；recipient_id 为空表示寄给自己
// @Tags 明信片
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createPostcardRequest true "明信片内容与解锁条件"
// @Success 201 {object} response.Response{data=unlock.View}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/postcards [post]
func (h *Handler) CreatePostcard(c *gin.Context) {
	var req createPostcardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	v, err := h.postcards.Create(c.Request.Context(), middleware.UserID(c), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, v)
}

// SaveDraft 保存草稿
// @Summary 保存草稿
// @Tags 明信片
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createPostcardRequest true "草稿内容"
// @Success 201 {object} response.Response{data=unlock.View}
// @Failure 400 {object} response.Response
// @Router /api/v1/postcards/drafts [post]
func (h *Handler) SaveDraft(c *gin.Context) {
	var req createPostcardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	v, err := h.postcards.SaveDraft(c.Request.Context(), middleware.UserID(c), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, v)
}

// PublishDraft 发布草稿
// @Summary 发布草稿
// @Tags 明信片
// @Produce json
// @Security BearerAuth
// @Param id path string true "草稿ID"
// @Success 200 {object} response.Response{data=unlock.View}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/postcards/drafts/{id}/publish [post]
func (h *Handler) PublishDraft(c *gin.Context) {
	v, err := h.postcards.PublishDraft(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, v)
}

// ListDrafts 我的草稿
// @Summary 草稿列表
// @Tags 明信片
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]unlock.View}
// @Router /api/v1/postcards/drafts [get]
func (h *Handler) ListDrafts(c *gin.Context) {
	list, err := h.postcards.ListDrafts(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// GetPostcard 查看明信片；锁定中的内容对收件人隐藏
// @Summary 查看明信片
// @Tags 明信片
// @Produce json
// @Security BearerAuth
// @Param id path string true "明信片ID"
// @Success 200 {object} response.Response{data=unlock.View}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/postcards/{id} [get]
func (h *Handler) GetPostcard(c *gin.Context) {
	v, err := h.postcards.GetByID(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, v)
}

// ListReceived 收件箱
// @Summary 收到的明信片
// @Tags 明信片
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]unlock.View}
// @Router /api/v1/postcards/received [get]
func (h *Handler) ListReceived(c *gin.Context) {
	list, err := h.postcards.ListReceived(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// ListSent 发件箱
// @Summary 寄出的明信片
// @Tags 明信片
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]unlock.View}
// @Router /api/v1/postcards/sent [get]
func (h *Handler) ListSent(c *gin.Context) {
	list, err := h.postcards.ListSent(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// GeoCheck 上报当前位置，解锁范围内的地理锁明信片
// @Summary 位置检查
// @Tags 明信片
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body geoCheckRequest true "当前位置"
// @Success 200 {object} response.Response{data=geoCheckResponse}
// @Failure 400 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/postcards/geo-check [post]
func (h *Handler) GeoCheck(c *gin.Context) {
	var req geoCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	unlocked, err := h.geo.CheckAndUnlock(c.Request.Context(), middleware.UserID(c), *req.Latitude, *req.Longitude)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, geoCheckResponse{UnlockedCount: len(unlocked), Unlocked: unlocked})
}
