package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stockipv/server/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportController отчеты по сменам
type ReportController struct {
	reports *services.ReportService
}

// NewReportController создает новый контроллер отчетов
func NewReportController(reports *services.ReportService) *ReportController {
	return &ReportController{reports: reports}
}

// GetTurnReport отчет смены: JSON или Excel (?format=xlsx)
// GET /api/v1/ipv/:id/report
func (rc *ReportController) GetTurnReport(c *gin.Context) {
	rep, err := rc.reports.BuildReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Ошибка построения отчета", err)
		return
	}
	if c.Query("format") != "xlsx" {
		c.JSON(http.StatusOK, rep)
		return
	}

	data, err := rc.reports.ExportXLSX(rep)
	if err != nil {
		respondError(c, "Ошибка выгрузки отчета", err)
		return
	}
	name := strings.NewReplacer("/", "_", " ", "_").Replace(rep.Name) + ".xlsx"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// GetConsumption расход по закрытым сменам за период
// GET /api/v1/reports/consumption?from=2026-01-01&to=2026-02-01&workplace_id=xxx
func (rc *ReportController) GetConsumption(c *gin.Context) {
	const layout = "2006-01-02"
	to := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -30)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(layout, v); err != nil {
			badRequest(c, err)
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(layout, v); err != nil {
			badRequest(c, err)
			return
		}
	}

	rows, err := rc.reports.ConsumptionHistory(c.Request.Context(), c.Query("workplace_id"), from, to)
	if errors.Is(err, services.ErrHistoryUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, "Ошибка получения расхода", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":  from.Format(layout),
		"to":    to.Format(layout),
		"rows":  rows,
		"count": len(rows),
	})
}
