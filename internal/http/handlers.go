package httpapi

import (
	"io"
	"net/http"
	"strings"

	"silo-data/internal/ingest"
	"silo-data/internal/service"

	"go.uber.org/zap"
)

// Handler HTTP 处理器：参数解析 + 委托服务层，不含业务逻辑
type Handler struct {
	ingestSvc      *service.IngestService
	querySvc       *service.QueryService
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHandler(ingestSvc *service.IngestService, querySvc *service.QueryService, maxUploadBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		ingestSvc:      ingestSvc,
		querySvc:       querySvc,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// ingestResponse 摄取结果；部分失败依然返回 200，success 标记整体是否无错
type ingestResponse struct {
	Success bool `json:"success"`
	*ingest.RunStats
}

// Ingest POST /api/v1/ingest
// 请求体：CSV（默认）或 XLSX（Content-Type 为 spreadsheet 时）；
// 也可用 ?source_url= 指定远端 CSV 导出。
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var stats *ingest.RunStats
	var err error

	if sourceURL := r.URL.Query().Get("source_url"); sourceURL != "" {
		stats, err = h.ingestSvc.IngestFromURL(ctx, sourceURL)
	} else {
		body := io.LimitReader(r.Body, h.maxUploadBytes)
		contentType := r.Header.Get("Content-Type")
		if strings.Contains(contentType, "spreadsheet") || strings.Contains(contentType, "excel") {
			stats, err = h.ingestSvc.IngestExcel(ctx, body)
		} else {
			stats, err = h.ingestSvc.IngestCSV(ctx, body)
		}
	}

	if err != nil {
		h.logger.Error("ingestion failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{Success: stats.Success(), RunStats: stats})
}

// GetSilos GET /api/v1/silos
func (h *Handler) GetSilos(w http.ResponseWriter, r *http.Request) {
	silos, err := h.querySvc.ListSilos(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, silos)
}

// GetSiloDetails GET /api/v1/silos/{code}
func (h *Handler) GetSiloDetails(w http.ResponseWriter, r *http.Request, code string) {
	details, err := h.querySvc.GetSiloDetails(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetLatestReading GET /api/v1/silos/{code}/latest
func (h *Handler) GetLatestReading(w http.ResponseWriter, r *http.Request, code string) {
	reading, err := h.querySvc.LatestReading(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// GetHourlyAnalytics GET /api/v1/silos/{code}/analytics/hourly?hours=&start_time=&end_time=
func (h *Handler) GetHourlyAnalytics(w http.ResponseWriter, r *http.Request, code string) {
	q := r.URL.Query()

	hours, err := parseInt(q.Get("hours"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hours")
		return
	}
	start, err := parseTime(q.Get("start_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	end, err := parseTime(q.Get("end_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time")
		return
	}

	buckets, err := h.querySvc.HourlyAnalytics(r.Context(), code, service.AnalyticsWindow{
		StartTime: start,
		EndTime:   end,
		Hours:     hours,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// ListReadings GET /api/v1/readings?silo=&start_time=&end_time=&include_errors=&limit=&offset=
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := parseInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	start, err := parseTime(q.Get("start_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	end, err := parseTime(q.Get("end_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time")
		return
	}
	includeErrors, err := parseBool(q.Get("include_errors"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid include_errors")
		return
	}

	resp, err := h.querySvc.ListReadings(r.Context(), service.ListReadingsRequest{
		SiloCode:      q.Get("silo"),
		StartTime:     start,
		EndTime:       end,
		IncludeErrors: includeErrors,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLatestPerSilo GET /api/v1/readings/latest
func (h *Handler) GetLatestPerSilo(w http.ResponseWriter, r *http.Request) {
	readings, err := h.querySvc.LatestPerSilo(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// GetCrossSiloStats GET /api/v1/stats?silo=&hours=&start_time=&end_time=
func (h *Handler) GetCrossSiloStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var window *service.AnalyticsWindow
	hours, err := parseInt(q.Get("hours"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hours")
		return
	}
	start, err := parseTime(q.Get("start_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	end, err := parseTime(q.Get("end_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time")
		return
	}
	if hours != 0 || start != nil || end != nil {
		window = &service.AnalyticsWindow{StartTime: start, EndTime: end, Hours: hours}
	}

	aggregates, err := h.querySvc.CrossSiloStats(r.Context(), q.Get("silo"), window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregates)
}
