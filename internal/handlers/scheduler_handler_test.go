package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestSchedulerStatus(t *testing.T) {
	sched := &fakeScheduler{running: true}
	h := NewSchedulerHandler(sched, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/api/scheduler/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, true, doc["is_running"])
	assert.NotNil(t, doc["scheduled_websites"])
}

func TestRescheduleRebuildsJobSet(t *testing.T) {
	sched := &fakeScheduler{running: true}
	h := NewSchedulerHandler(sched, arbor.NewLogger())

	req := httptest.NewRequest("POST", "/api/scheduler/reschedule", nil)
	rec := httptest.NewRecorder()
	h.RescheduleHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sched.calls())
}

func TestRescheduleWhileStopped(t *testing.T) {
	sched := &fakeScheduler{running: false}
	h := NewSchedulerHandler(sched, arbor.NewLogger())

	req := httptest.NewRequest("POST", "/api/scheduler/reschedule", nil)
	rec := httptest.NewRecorder()
	h.RescheduleHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, sched.calls())
}

func TestRescheduleFailure(t *testing.T) {
	sched := &fakeScheduler{running: true, rescheduleErr: errors.New("catalog unavailable")}
	h := NewSchedulerHandler(sched, arbor.NewLogger())

	req := httptest.NewRequest("POST", "/api/scheduler/reschedule", nil)
	rec := httptest.NewRecorder()
	h.RescheduleHandler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRescheduleMethodGuard(t *testing.T) {
	h := NewSchedulerHandler(&fakeScheduler{running: true}, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/api/scheduler/reschedule", nil)
	rec := httptest.NewRecorder()
	h.RescheduleHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
