package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/postcard-capsule/internal/service"
	"github.com/d60-Lab/postcard-capsule/internal/unlock"
	"github.com/d60-Lab/postcard-capsule/pkg/response"
)

// GeoChecker 地理锁检查
type GeoChecker interface {
	CheckAndUnlock(ctx context.Context, userID string, lat, lon float64) ([]service.GeoUnlock, error)
}

type Handler struct {
	postcards  service.PostcardService
	geo        GeoChecker
	relService service.RelationshipService
}

func NewHandler(postcards service.PostcardService, geo GeoChecker, relService service.RelationshipService) *Handler {
	return &Handler{postcards: postcards, geo: geo, relService: relService}
}

// writeError 领域错误到 HTTP 状态码的唯一映射
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, unlock.ErrInvalidUnlockCondition),
		errors.Is(err, unlock.ErrUnlockDateTooSoon),
		errors.Is(err, unlock.ErrUnlockDateTooFar),
		errors.Is(err, unlock.ErrInvalidRadius),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrFollowSelf):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrRecipientNotFound),
		errors.Is(err, service.ErrPostcardNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrRecipientNotFollowed),
		errors.Is(err, service.ErrAccessDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrDraftNotEditable):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// bindError 把 validator 的字段错误转成可读信息
func bindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		response.BadRequest(c, "invalid request body")
		return
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	response.BadRequest(c, strings.Join(msgs, "; "))
}
