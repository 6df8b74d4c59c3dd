package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
	"stockipv/server/internal/services"
)

// RouterDeps зависимости HTTP API
type RouterDeps struct {
	Turns      *services.IPVService
	Workplaces *services.WorkplaceService
	Reports    *services.ReportService
	Auth       *services.AuthService
	Hub        *Hub
	Cache      *TurnCache // nil без Redis
}

// SetupRouter собирает gin движок со всеми маршрутами
func SetupRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "Stock IPV",
		})
	})

	// Логирование всех запросов
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.WithField("latency", time.Since(start)).
			Debugf("🌐 %s %s - Status: %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	})

	// CORS для фронтенда
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	authController := NewAuthController(d.Auth)
	ipvController := NewIPVController(d.Turns, d.Cache)
	workplaceController := NewWorkplaceController(d.Workplaces)
	stockController := NewStockController(d.Turns)
	reportController := NewReportController(d.Reports)

	r.GET("/ws/ipv", AuthMiddleware(d.Auth), d.Hub.ServeWS)

	apiGroup := r.Group("/api/v1")
	apiGroup.POST("/auth/login", authController.Login)

	protected := apiGroup.Group("", AuthMiddleware(d.Auth))

	ipvGroup := protected.Group("/ipv")
	{
		ipvGroup.GET("", ipvController.ListTurns)
		ipvGroup.GET("/defaults", ipvController.DefaultTurn)
		ipvGroup.POST("", ipvController.CreateTurn)
		ipvGroup.GET("/:id", ipvController.GetTurn)
		ipvGroup.DELETE("/:id", ipvController.DeleteTurn)
		ipvGroup.GET("/:id/report", reportController.GetTurnReport)
		ipvGroup.GET("/:id/product-choices", ipvController.ProductChoices)

		ipvGroup.POST("/:id/lines", ipvController.AddLine)
		ipvGroup.PUT("/:id/lines/:line_id", ipvController.UpdateLine)
		ipvGroup.DELETE("/:id/lines/:line_id", ipvController.DeleteLine)

		ipvGroup.POST("/:id/confirm", ipvController.Action("Ошибка подтверждения смены", (*services.IPVService).Confirm))
		ipvGroup.POST("/:id/assign", ipvController.Action("Ошибка резервирования", (*services.IPVService).Assign))
		ipvGroup.POST("/:id/unreserve", ipvController.Action("Ошибка снятия резерва", (*services.IPVService).Unreserve))
		ipvGroup.POST("/:id/validate", ipvController.Action("Ошибка проведения", (*services.IPVService).Validate))
		ipvGroup.POST("/:id/done", ipvController.Action("Ошибка проведения", (*services.IPVService).Done))
		ipvGroup.POST("/:id/open", ipvController.Action("Ошибка открытия смены", (*services.IPVService).Open))
		ipvGroup.POST("/:id/recompute", ipvController.Action("Ошибка пересчета смены", (*services.IPVService).Recompute))
		ipvGroup.POST("/:id/cancel", ipvController.Action("Ошибка отмены смены", (*services.IPVService).Cancel))
		ipvGroup.POST("/:id/close", RequireRole(models.RoleManager),
			ipvController.Action("Ошибка закрытия смены", (*services.IPVService).Close))
	}

	protected.PUT("/moves/:id/done", ipvController.SetMoveDone)

	workplaceGroup := protected.Group("/workplaces")
	{
		workplaceGroup.GET("", workplaceController.GetWorkplaces)
		workplaceGroup.GET("/:id", workplaceController.GetWorkplace)
		workplaceGroup.POST("", RequireRole(), workplaceController.CreateWorkplace)
		workplaceGroup.PUT("/:id", RequireRole(), workplaceController.UpdateWorkplace)
		workplaceGroup.PUT("/:id/active", RequireRole(), workplaceController.SetWorkplaceActive)
	}

	productGroup := protected.Group("/products")
	{
		productGroup.GET("", workplaceController.GetProducts)
		productGroup.POST("", RequireRole(), workplaceController.SaveProduct)
		productGroup.PUT("/:id", RequireRole(), workplaceController.SaveProduct)
	}

	inventoryGroup := protected.Group("/inventory")
	{
		inventoryGroup.POST("/adjust", RequireRole(models.RoleManager), stockController.AdjustInventory)
		inventoryGroup.POST("/sales", stockController.RegisterSale)
	}

	protected.GET("/reports/consumption", RequireRole(models.RoleManager), reportController.GetConsumption)

	return r
}
