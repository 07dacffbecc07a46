package middleware

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"campus-im/internal/logger"
	"campus-im/internal/metrics"
)

// Observe 记录请求日志和按路由模板统计的耗时。
// httpsnoop 包装的 ResponseWriter 保留 Hijacker，WebSocket 升级不受影响。
func Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(m.Code)).
			Observe(m.Duration.Seconds())
		logger.Log.Debug("request_completed",
			zap.String("route", route),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
			zap.Int64("bytes", m.Written))
	})
}
