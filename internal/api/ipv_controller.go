package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
	"stockipv/server/internal/services"
)

// IPVController управляет API endpoints смен
type IPVController struct {
	turns *services.IPVService
	cache *TurnCache // может быть nil
}

// NewIPVController создает новый контроллер смен
func NewIPVController(turns *services.IPVService, cache *TurnCache) *IPVController {
	return &IPVController{turns: turns, cache: cache}
}

// ListTurns список смен
// GET /api/v1/ipv?workplace_id=xxx&state=open&limit=50
func (ic *IPVController) ListTurns(c *gin.Context) {
	f := repository.IPVFilter{
		WorkplaceID: c.Query("workplace_id"),
		State:       models.IPVState(c.Query("state")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный limit"})
			return
		}
		f.Limit = n
	}

	turns, err := ic.turns.ListTurns(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Ошибка получения смен", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"turns": turns,
		"count": len(turns),
	})
}

// GetTurn карточка смены с пересчитанными полями
// GET /api/v1/ipv/:id
func (ic *IPVController) GetTurn(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if ic.cache != nil {
		if ipv, ok := ic.cache.Get(ctx, id); ok {
			c.JSON(http.StatusOK, ipv)
			return
		}
	}
	ipv, err := ic.turns.GetTurn(ctx, id)
	if err != nil {
		respondError(c, "Смена не найдена", err)
		return
	}
	if ic.cache != nil {
		ic.cache.Set(ctx, ipv)
	}
	c.JSON(http.StatusOK, ipv)
}

// DefaultTurn черновик новой смены по умолчанию для рабочего места
// GET /api/v1/ipv/defaults?workplace_id=xxx&location_dest_id=yyy
func (ic *IPVController) DefaultTurn(c *gin.Context) {
	var wp *string
	if v := c.Query("workplace_id"); v != "" {
		wp = &v
	}
	in, err := ic.turns.DefaultTurn(c.Request.Context(), wp, c.Query("location_dest_id"))
	if err != nil {
		respondError(c, "Ошибка подготовки смены", err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// CreateTurn создает смену
// POST /api/v1/ipv
func (ic *IPVController) CreateTurn(c *gin.Context) {
	var in services.TurnInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if uid := currentUserID(c); uid != "" {
		in.RequestedBy = uid
	}
	ipv, err := ic.turns.CreateTurn(c.Request.Context(), in)
	if err != nil {
		respondError(c, "Ошибка создания смены", err)
		return
	}
	c.JSON(http.StatusCreated, ipv)
}

// DeleteTurn удаляет смену в статусе черновик или отменена
// DELETE /api/v1/ipv/:id
func (ic *IPVController) DeleteTurn(c *gin.Context) {
	if err := ic.turns.DeleteTurn(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "Ошибка удаления смены", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Смена удалена"})
}

// AddLine добавляет строку
// POST /api/v1/ipv/:id/lines
func (ic *IPVController) AddLine(c *gin.Context) {
	var in services.LineInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ipv, err := ic.turns.AddLine(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, "Ошибка добавления строки", err)
		return
	}
	c.JSON(http.StatusOK, ipv)
}

// UpdateLine меняет товар и/или запрошенное количество строки
// PUT /api/v1/ipv/:id/lines/:line_id
func (ic *IPVController) UpdateLine(c *gin.Context) {
	var upd services.LineUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}
	ipv, err := ic.turns.UpdateLine(c.Request.Context(), c.Param("id"), c.Param("line_id"), upd)
	if err != nil {
		respondError(c, "Ошибка изменения строки", err)
		return
	}
	c.JSON(http.StatusOK, ipv)
}

// DeleteLine удаляет строку вместе с сырьем
// DELETE /api/v1/ipv/:id/lines/:line_id
func (ic *IPVController) DeleteLine(c *gin.Context) {
	ipv, err := ic.turns.DeleteLine(c.Request.Context(), c.Param("id"), c.Param("line_id"))
	if err != nil {
		respondError(c, "Ошибка удаления строки", err)
		return
	}
	c.JSON(http.StatusOK, ipv)
}

// ProductChoices товары, доступные для новой строки
// GET /api/v1/ipv/:id/product-choices?product_id=xxx
func (ic *IPVController) ProductChoices(c *gin.Context) {
	choices, err := ic.turns.ProductOnchange(c.Request.Context(), c.Param("id"), c.Query("product_id"))
	if err != nil {
		respondError(c, "Ошибка подбора товаров", err)
		return
	}
	c.JSON(http.StatusOK, choices)
}

type turnAction func(*services.IPVService, context.Context, string) (*models.IPV, error)

// Action кнопка смены (confirm, assign, validate, close...)
// POST /api/v1/ipv/:id/<action>
func (ic *IPVController) Action(title string, fn turnAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		ipv, err := fn(ic.turns, c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, title, err)
			return
		}
		c.JSON(http.StatusOK, ipv)
	}
}

// MoveDoneRequest ручной ввод выполненного количества
type MoveDoneRequest struct {
	Qty decimal.Decimal `json:"qty"`
}

// SetMoveDone PUT /api/v1/moves/:id/done
func (ic *IPVController) SetMoveDone(c *gin.Context) {
	var req MoveDoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	move, err := ic.turns.SetMoveQuantityDone(c.Request.Context(), c.Param("id"), req.Qty)
	if err != nil {
		respondError(c, "Ошибка ввода количества", err)
		return
	}
	c.JSON(http.StatusOK, move)
}
