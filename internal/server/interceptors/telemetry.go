package interceptors

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Telemetry returns middleware that records request duration on meter and logs each request.
// route labels the metric so path parameters do not explode cardinality. meter may be nil.
func Telemetry(meter metric.Meter, route string) func(http.Handler) http.Handler {
	var duration metric.Float64Histogram
	if meter != nil {
		h, err := meter.Float64Histogram("almaroof.http.server.duration",
			metric.WithDescription("HTTP request duration."),
			metric.WithUnit("ms"),
		)
		if err != nil {
			log.Printf("telemetry: create request histogram: %v", err)
		} else {
			duration = h
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)
			if duration != nil {
				duration.Record(r.Context(), float64(elapsed.Microseconds())/1000,
					metric.WithAttributes(
						attribute.String("http.route", route),
						attribute.String("http.method", r.Method),
						attribute.String("http.status_code", strconv.Itoa(rec.status)),
					))
			}
			log.Printf("http: %s %s %d %s", r.Method, route, rec.status, elapsed.Round(time.Millisecond))
		})
	}
}
