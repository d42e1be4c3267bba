package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/csv2json/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ core.Observer = (*Metrics)(nil)

// counterValue sums every series of the named counter family.
func counterValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func gaugeValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestObserveUpload(t *testing.T) {
	m := New()

	m.ObserveUpload("ok", 2048, 10, 50*time.Millisecond)
	m.ObserveUpload("failed", 100, 0, time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "csv2json_upload_total"))
}

func TestObserveConversion(t *testing.T) {
	m := New()

	m.ObserveConversion("records", "complete", 2, 40, time.Second)
	m.ObserveConversion("index", "failed", 0, 0, time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "csv2json_conversion_total"))
}

func TestGauges(t *testing.T) {
	m := New()

	m.SetActiveSessions(3)
	m.SetActiveConversions(1)

	assert.Equal(t, 3.0, gaugeValue(t, m, "csv2json_session_active"))
	assert.Equal(t, 1.0, gaugeValue(t, m, "csv2json_conversion_active"))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/session/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/"+id, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var series int
	for _, mf := range families {
		if mf.GetName() != "csv2json_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			series++
			assert.Equal(t, 3.0, metric.GetCounter().GetValue())
			for _, label := range metric.GetLabel() {
				switch label.GetName() {
				case "route":
					assert.Equal(t, "/session/{id}", label.GetValue())
				case "code":
					assert.Equal(t, "204", label.GetValue())
				}
			}
		}
	}
	assert.Equal(t, 1, series)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveUpload("ok", 1, 1, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "csv2json_upload_total")
	assert.Contains(t, string(body), "go_goroutines")
}
