package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 基于 http.ServeMux 的轻量路由
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSiloRoutes 注册筒仓数据 API 路由
func (r *Router) RegisterSiloRoutes(h *Handler) {
	r.Handle("/api/v1/ingest", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Ingest(w, req)
	})

	r.Handle("/api/v1/silos", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetSilos(w, req)
	})

	// /api/v1/silos/{code}
	// /api/v1/silos/{code}/latest
	// /api/v1/silos/{code}/analytics/hourly
	r.Handle("/api/v1/silos/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/silos/")
		if rest == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case !strings.Contains(rest, "/"):
			h.GetSiloDetails(w, req, rest)
		case strings.HasSuffix(rest, "/latest"):
			h.GetLatestReading(w, req, strings.TrimSuffix(rest, "/latest"))
		case strings.HasSuffix(rest, "/analytics/hourly"):
			h.GetHourlyAnalytics(w, req, strings.TrimSuffix(rest, "/analytics/hourly"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	r.Handle("/api/v1/readings", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListReadings(w, req)
	})

	r.Handle("/api/v1/readings/latest", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetLatestPerSilo(w, req)
	})

	r.Handle("/api/v1/stats", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetCrossSiloStats(w, req)
	})

	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
