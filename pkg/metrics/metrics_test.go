package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	TaskRetries.Inc()
	JobsTotal.WithLabelValues("run", "completed").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "crewrun_task_retries_total")
	assert.Contains(t, string(body), `crewrun_jobs_total{kind="run",status="completed"}`)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ProgressDropped)
	ProgressDropped.Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(ProgressDropped))
}
