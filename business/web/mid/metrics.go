package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/omahs/ganache/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// m contains the global program counters for the application.
var m = struct {
	gr  *expvar.Int
	req *expvar.Int
	err *expvar.Int
}{
	gr:  expvar.NewInt("goroutines"),
	req: expvar.NewInt("requests"),
	err: expvar.NewInt("errors"),
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ganache",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "Duration of the HTTP requests by method and status code.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "code"})

// Metrics updates program counters.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			// Increment the request counter.
			m.req.Add(1)

			// Update the count for the number of active goroutines every 100 requests.
			if m.req.Value()%100 == 0 {
				m.gr.Set(int64(runtime.NumGoroutine()))
			}

			// Increment the errors counter if an error occurred on this request.
			if err != nil {
				m.err.Add(1)
			}

			if v, verr := web.GetValues(ctx); verr == nil {
				requestDuration.WithLabelValues(r.Method, strconv.Itoa(v.StatusCode)).Observe(time.Since(v.Now).Seconds())
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
