package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"airsense-backend/internal/apperr"
	"airsense-backend/internal/store"
	"airsense-backend/internal/syncer"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	syncer  *syncer.Service
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, sync *syncer.Service, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		syncer:  sync,
		webpush: webpushOptions,
	}
}

// abortWithError maps the error taxonomy onto HTTP statuses. Validation
// and conflict messages are written for direct display to the tenant.
func abortWithError(c *gin.Context, err error) {
	var (
		validation *apperr.ValidationError
		auth       *apperr.AuthError
		conflict   *apperr.ConflictError
		notFound   *apperr.NotFoundError
		api        *apperr.APIError
		security   *apperr.SecurityError
	)
	switch {
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validation.Msg})
	case errors.As(err, &auth):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.Msg})
	case errors.As(err, &conflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": conflict.Msg})
	case errors.As(err, &notFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": notFound.Msg})
	case errors.As(err, &security):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": security.Msg})
	case errors.As(err, &api):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": api.Msg})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
