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

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.Advancement()
		r.ByeResolved()
		r.Repair("feeds_to")
		r.Rejection("slot_conflict")
		r.StoreRetry("get_match")
		r.ReconcileDuration(time.Second)
	})
}

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()

	r.Advancement()
	r.Advancement()
	r.ByeResolved()
	r.Repair("feeds_to")
	r.Repair("feeds_to")
	r.Repair("feeds_from")
	r.Rejection("slot_conflict")
	r.StoreRetry("fill_slot")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.advancements))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.byes))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.repairs.WithLabelValues("feeds_to")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.repairs.WithLabelValues("feeds_from")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rejections.WithLabelValues("slot_conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("fill_slot")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ByeResolved()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bracket_byes_resolved_total 1")
}
