// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartHandlerRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	_, span := StartHandler(context.Background(), tracer, "sync", "task-1")
	span.End(nil)

	_, failed := StartHandler(context.Background(), tracer, "action", "task-2")
	failed.End(errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "jobs.handler.sync", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "jobs.handler.action", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}

func TestHandlerSpanNilSafe(t *testing.T) {
	var span *HandlerSpan
	span.SetAttribute("k", "v")
	span.End(errors.New("ignored"))
}

func TestSyncMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewSyncMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSuccess(ctx, "FULL", 2*time.Second)
	m.RecordFailure(ctx, "INCREMENTAL")
	m.RecordFailure(ctx, "INCREMENTAL")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		found[metric.Name] = true
		switch data := metric.Data.(type) {
		case metricdata.Sum[int64]:
			var total int64
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
			assert.Equal(t, int64(3), total)
		case metricdata.Histogram[float64]:
			require.Len(t, data.DataPoints, 1)
			assert.Equal(t, uint64(1), data.DataPoints[0].Count)
		}
	}
	assert.True(t, found["relay_sync_runs_total"])
	assert.True(t, found["relay_sync_run_duration_seconds"])
}

func TestSyncMetricsNilSafe(t *testing.T) {
	var m *SyncMetrics
	m.RecordSuccess(context.Background(), "FULL", time.Second)
	m.RecordFailure(context.Background(), "FULL")
}

func TestProviderMetricsHandler(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "relay-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewSyncMetrics(p.MeterProvider())
	require.NoError(t, err)
	m.RecordFailure(context.Background(), "FULL")

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_sync_runs")
}

func TestCreateExporter(t *testing.T) {
	exp, err := CreateExporter(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = CreateExporter(context.Background(), Config{Exporter: ExporterStdout})
	require.NoError(t, err)
	assert.NotNil(t, exp)

	_, err = CreateExporter(context.Background(), Config{Exporter: "zipkin"})
	assert.ErrorContains(t, err, "unknown exporter type")
}
