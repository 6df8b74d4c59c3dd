package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stockipv/server/internal/services"
)

// StockController инвентаризация и продажи
type StockController struct {
	turns *services.IPVService
}

// NewStockController создает новый контроллер остатков
func NewStockController(turns *services.IPVService) *StockController {
	return &StockController{turns: turns}
}

// AdjustRequest фактический остаток товара в локации
type AdjustRequest struct {
	ProductID  string          `json:"product_id" binding:"required"`
	LocationID string          `json:"location_id" binding:"required"`
	Qty        decimal.Decimal `json:"qty"`
}

// AdjustInventory выставляет остаток по инвентаризации
// POST /api/v1/inventory/adjust
func (sc *StockController) AdjustInventory(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	move, err := sc.turns.AdjustInventory(c.Request.Context(), req.ProductID, req.LocationID, req.Qty)
	if err != nil {
		respondError(c, "Ошибка инвентаризации", err)
		return
	}
	if move == nil {
		c.JSON(http.StatusOK, gin.H{"message": "Остаток не изменился"})
		return
	}
	c.JSON(http.StatusOK, move)
}

// RegisterSale ручной ввод продажи (кассы шлют продажи через Kafka)
// POST /api/v1/inventory/sales
func (sc *StockController) RegisterSale(c *gin.Context) {
	var sale services.SaleInput
	if err := c.ShouldBindJSON(&sale); err != nil {
		badRequest(c, err)
		return
	}
	if sale.WorkplaceID == "" || sale.ProductID == "" || sale.Qty.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Нужны workplace_id, product_id и положительное qty"})
		return
	}
	if sale.Origin == "" {
		sale.Origin = "manual"
	}
	if err := sc.turns.RegisterSale(c.Request.Context(), sale); err != nil {
		respondError(c, "Ошибка списания продажи", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Продажа списана"})
}
