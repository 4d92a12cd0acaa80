// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStage(t *testing.T) {
	before := testutil.ToFloat64(stageRuns.WithLabelValues("requirement_mapping", ResultOK))
	RecordStage("requirement_mapping", ResultOK, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(stageRuns.WithLabelValues("requirement_mapping", ResultOK)))

	blocked := testutil.ToFloat64(stageRuns.WithLabelValues("evidence_extraction", ResultBlocked))
	RecordStage("evidence_extraction", ResultBlocked, 0)
	assert.Equal(t, blocked+1, testutil.ToFloat64(stageRuns.WithLabelValues("evidence_extraction", ResultBlocked)))
}

func TestRecordOracleAndVerification(t *testing.T) {
	before := testutil.ToFloat64(oracleCalls.WithLabelValues("api", "transient"))
	RecordOracleCall("api", "transient")
	assert.Equal(t, before+1, testutil.ToFloat64(oracleCalls.WithLabelValues("api", "transient")))

	rejected := testutil.ToFloat64(verifications.WithLabelValues("rejected"))
	RecordVerification("rejected")
	assert.Equal(t, rejected+1, testutil.ToFloat64(verifications.WithLabelValues("rejected")))
}

func TestHandler(t *testing.T) {
	RecordVerification("verified")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "registry_review_verifications_total")
}
