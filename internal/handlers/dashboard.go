package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"
)

const defaultDashboardTimeout = 10 * time.Second

// DashboardHandler отдаёт сводку для панели администратора.
type DashboardHandler struct {
	service DashboardService
	log     *logger.Logger
	cfg     *config.DashboardConfig
}

// NewDashboardHandler создает новый обработчик панели.
func NewDashboardHandler(service DashboardService, log *logger.Logger, cfg *config.DashboardConfig) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		log:     log,
		cfg:     cfg,
	}
}

// GetSummary возвращает показатели за период с возможностью экспорта в CSV.
func (h *DashboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	filter, format, err := parseDashboardFilter(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dashboardTimeout(h.cfg))
	defer cancel()

	summary, err := h.service.GetSummary(ctx, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load dashboard")
		return
	}

	if format == "csv" {
		if err := writeSummaryCSV(w, summary); err != nil {
			h.log.WithError(err).Warn("Failed to stream dashboard CSV")
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, summary)
}

// parseDashboardFilter разбирает from/to (YYYY-MM-DD), top_limit и format.
// Пустые границы заполняет сервис.
func parseDashboardFilter(r *http.Request) (*models.DashboardFilter, string, error) {
	query := r.URL.Query()
	filter := &models.DashboardFilter{}

	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, "", fmt.Errorf("invalid 'from' date, expected YYYY-MM-DD")
		}
		filter.From = startOfDay(parsed)
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, "", fmt.Errorf("invalid 'to' date, expected YYYY-MM-DD")
		}
		filter.To = endOfDay(parsed)
	}

	if raw := query.Get("top_limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, "", fmt.Errorf("top_limit must be a positive integer")
		}
		filter.TopLimit = parsed
	}

	format := strings.ToLower(query.Get("format"))
	if format != "" && format != "json" && format != "csv" {
		return nil, "", fmt.Errorf("format must be json or csv")
	}

	return filter, format, nil
}

func writeSummaryCSV(w http.ResponseWriter, summary *models.DashboardSummary) error {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=dashboard.csv")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	rangeLabel := fmt.Sprintf("%s..%s", summary.From.Format("2006-01-02"), summary.To.Format("2006-01-02"))
	_ = writer.Write([]string{"section", "period", "revenue", "approved_purchases", "pending_purchases", "finished_sessions", "minutes_consumed", "avg_session_minutes", "coupon_discount", "loyalty_minutes"})
	_ = writer.Write([]string{
		"summary",
		rangeLabel,
		fmt.Sprintf("%.2f", summary.Revenue),
		strconv.Itoa(summary.ApprovedPurchases),
		strconv.Itoa(summary.PendingPurchases),
		strconv.Itoa(summary.FinishedSessions),
		strconv.Itoa(summary.MinutesConsumed),
		fmt.Sprintf("%.2f", summary.AvgSessionMinutes),
		fmt.Sprintf("%.2f", summary.CouponDiscountGranted),
		strconv.Itoa(summary.LoyaltyMinutesGranted),
	})

	_ = writer.Write([]string{})
	_ = writer.Write([]string{"section", "consultant_id", "name", "rating", "sessions", "minutes"})
	for _, row := range summary.TopConsultants {
		_ = writer.Write([]string{
			"top_consultant",
			row.ConsultantID.String(),
			row.Name,
			fmt.Sprintf("%.2f", row.Rating),
			strconv.Itoa(row.Sessions),
			strconv.Itoa(row.Minutes),
		})
	}

	writer.Flush()
	return writer.Error()
}

func dashboardTimeout(cfg *config.DashboardConfig) time.Duration {
	if cfg != nil && cfg.RequestTimeoutSeconds > 0 {
		return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	return defaultDashboardTimeout
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}
