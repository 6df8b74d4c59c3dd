package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stockipv/server/internal/models"
	"stockipv/server/internal/services"
)

// WorkplaceController рабочие места и справочник товаров
type WorkplaceController struct {
	workplaces *services.WorkplaceService
}

// NewWorkplaceController создает новый контроллер рабочих мест
func NewWorkplaceController(workplaces *services.WorkplaceService) *WorkplaceController {
	return &WorkplaceController{workplaces: workplaces}
}

// GetWorkplaces GET /api/v1/workplaces?all=true
func (wc *WorkplaceController) GetWorkplaces(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	list, err := wc.workplaces.ListWorkplaces(c.Request.Context(), !all)
	if err != nil {
		respondError(c, "Ошибка получения рабочих мест", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workplaces": list,
		"count":      len(list),
	})
}

// GetWorkplace GET /api/v1/workplaces/:id
func (wc *WorkplaceController) GetWorkplace(c *gin.Context) {
	w, err := wc.workplaces.GetWorkplace(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Рабочее место не найдено", err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// CreateWorkplace POST /api/v1/workplaces
func (wc *WorkplaceController) CreateWorkplace(c *gin.Context) {
	var w models.Workplace
	if err := c.ShouldBindJSON(&w); err != nil {
		badRequest(c, err)
		return
	}
	if err := wc.workplaces.CreateWorkplace(c.Request.Context(), &w); err != nil {
		respondError(c, "Ошибка создания рабочего места", err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// UpdateWorkplace PUT /api/v1/workplaces/:id
func (wc *WorkplaceController) UpdateWorkplace(c *gin.Context) {
	var w models.Workplace
	if err := c.ShouldBindJSON(&w); err != nil {
		badRequest(c, err)
		return
	}
	updated, err := wc.workplaces.UpdateWorkplace(c.Request.Context(), c.Param("id"), &w)
	if err != nil {
		respondError(c, "Ошибка обновления рабочего места", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// SetWorkplaceActive PUT /api/v1/workplaces/:id/active
func (wc *WorkplaceController) SetWorkplaceActive(c *gin.Context) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := wc.workplaces.SetActive(c.Request.Context(), c.Param("id"), req.Active)
	if err != nil {
		respondError(c, "Ошибка обновления рабочего места", err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// GetProducts GET /api/v1/products?workplace_id=xxx&pos=true
func (wc *WorkplaceController) GetProducts(c *gin.Context) {
	pos, _ := strconv.ParseBool(c.DefaultQuery("pos", "false"))
	list, err := wc.workplaces.ListProducts(c.Request.Context(), services.ProductFilter{
		WorkplaceID: c.Query("workplace_id"),
		POSOnly:     pos,
	})
	if err != nil {
		respondError(c, "Ошибка получения товаров", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products": list,
		"count":    len(list),
	})
}

// SaveProduct POST /api/v1/products
func (wc *WorkplaceController) SaveProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if id := c.Param("id"); id != "" {
		p.ID = id
	}
	if err := wc.workplaces.SaveProduct(c.Request.Context(), &p); err != nil {
		respondError(c, "Ошибка сохранения товара", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
