package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const prometheusMetricName = "lchangra_signal_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Every counter is a sample of one metric family, distinguished by the
// `event` label. Gauges (e.g. the current queue length) can be appended by
// passing a gauges func; it may be nil.
func PrometheusHandler(m *Metrics, gauges func() map[string]int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s Internal event counters.\n", prometheusMetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", prometheusMetricName)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", prometheusMetricName, labelEscaper.Replace(k), snap[k])
		}

		if gauges == nil {
			return
		}
		g := gauges()
		names := make([]string, 0, len(g))
		for k := range g {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			full := "lchangra_signal_" + name
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", full)
			_, _ = fmt.Fprintf(w, "%s %d\n", full, g[name])
		}
	})
}
