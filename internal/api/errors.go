package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/repository"
	"stockipv/server/internal/services"
)

// httpStatus код ответа по ошибке сервиса
func httpStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrLocationRequired),
		errors.Is(err, services.ErrInvalidWorkplace),
		errors.Is(err, services.ErrInvalidProduct):
		return http.StatusBadRequest
	case services.IsUserError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError отвечает в формате {"error", "details"}
func respondError(c *gin.Context, title string, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).Errorf("❌ %s %s: %s", c.Request.Method, c.Request.URL.Path, title)
	}
	c.JSON(status, gin.H{
		"error":   title,
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Неверные параметры запроса",
		"details": err.Error(),
	})
}
