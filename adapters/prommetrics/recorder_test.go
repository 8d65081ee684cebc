package prommetrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-credentials/core"
)

func TestRecorder_CountersUseFixedLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	ctx := context.Background()

	recorder.IncCounter(ctx, "credentials.login.total", 1, map[string]string{"operation": "login", "status": "success", "principal_kind": "user", "extra": "dropped"})
	recorder.IncCounter(ctx, "credentials.login.total", 2, map[string]string{"operation": "login", "status": "success", "principal_kind": "user"})
	recorder.IncCounter(ctx, "credentials.login.total", 1, map[string]string{"operation": "login", "status": "failure", "error_kind": "BadInput"})

	vec := recorder.counters["credentials_login_total"]
	require.NotNil(t, vec)
	assert.Equal(t, 3.0, testutil.ToFloat64(vec.With(prometheus.Labels{"operation": "login", "status": "success", "error_kind": "", "principal_kind": "user"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(vec.With(prometheus.Labels{"operation": "login", "status": "failure", "error_kind": "BadInput", "principal_kind": ""})))
	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

func TestRecorder_HistogramObservations(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry, WithNamespace("svc"), WithBuckets(1, 10))

	recorder.ObserveHistogram(context.Background(), "credentials.refresh.duration_ms", 4, map[string]string{"operation": "refresh"})
	recorder.ObserveHistogram(context.Background(), "credentials.refresh.duration_ms", 40, map[string]string{"operation": "refresh"})

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "svc_credentials_refresh_duration_ms", families[0].GetName())
	assert.Equal(t, uint64(2), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecorder_ReusesAlreadyRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewRecorder(registry)
	second := NewRecorder(registry)

	first.IncCounter(context.Background(), "credentials.revoke.total", 1, map[string]string{"operation": "revoke"})
	second.IncCounter(context.Background(), "credentials.revoke.total", 1, map[string]string{"operation": "revoke"})

	vec := first.counters["credentials_revoke_total"]
	assert.Equal(t, 2.0, testutil.ToFloat64(vec.With(prometheus.Labels{"operation": "revoke", "status": "", "error_kind": "", "principal_kind": ""})))
}

func TestRecorder_ReportsTypeConflicts(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	var reported []error
	recorder.OnError(func(err error) { reported = append(reported, err) })

	recorder.IncCounter(context.Background(), "credentials.same", 1, nil)
	recorder.ObserveHistogram(context.Background(), "credentials.same", 1, nil)
	recorder.IncCounter(context.Background(), " ", 1, nil)

	assert.Len(t, reported, 2)
}

func TestRecorder_WiredIntoService(t *testing.T) {
	registry := prometheus.NewRegistry()
	svc, err := core.NewService(core.DefaultConfig(), core.WithMetricsRecorder(NewRecorder(registry)))
	require.NoError(t, err)
	defer func() { _ = svc.Close(context.Background()) }()

	_, err = svc.GetAccessToken(context.Background(), "1337", false)
	require.Error(t, err)
	assert.True(t, core.IsNotLoggedIn(err))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["credentials_get_access_token_total"], "gathered %v", names)
	assert.True(t, names["credentials_get_access_token_duration_ms"], "gathered %v", names)
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "credentials_login_total", MetricName("credentials.login.total"))
	assert.Equal(t, "a_b_c", MetricName(" A-b c. "))
}
