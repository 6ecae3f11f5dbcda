package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

func newTestRouter(t *testing.T, locker redisclient.Locker) (http.Handler, *metrics.Collector) {
	t.Helper()
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	svc := appointment.NewService(appointment.NewMemoryRepository(), locker)
	col := metrics.NewCollector("test")
	return NewRouter(RouterConfig{
		Service: svc,
		Logger:  zerolog.Nop(),
		Metrics: col,
		Env:     "test",
	}), col
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v))
	return v
}

const bookBody = `{"patient_id":"P1","doctor_id":"D1","date":"2024-06-01","time":"10:00","duration":30,"reason":"checkup"}`

func TestCreateAndGetAppointment(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/appointments", bookBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[appointment.Appointment](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "10:00", created.Time.String())
	assert.Equal(t, appointment.StatusScheduled, created.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/appointments/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[appointment.Appointment](t, rec).ID)
}

func TestCreateConflictReturns409WithDetail(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/appointments", bookBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[appointment.Appointment](t, rec)

	overlapping := strings.Replace(bookBody, `"10:00"`, `"10:15"`, 1)
	rec = do(t, h, http.MethodPost, "/appointments", overlapping)
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, CodeConflict, resp.Error)
	require.NotNil(t, resp.Conflict)
	assert.Equal(t, first.ID, resp.Conflict.ExistingID)
	assert.Equal(t, "10:15", resp.Conflict.Time.String())
}

func TestCreateValidationReturns400(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/appointments", `{"patient_id":"P1","doctor_id":"","date":"2024-06-01","time":"10:00","duration":0,"reason":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, CodeValidation, resp.Error)
	assert.Len(t, resp.Fields, 2)

	rec = do(t, h, http.MethodPost, "/appointments", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidBody, decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodPost, "/appointments", `{"patient_id":"P1","doctor_id":"D1","date":"2024-06-01","time":"25:00","duration":30,"reason":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchCancelFreesSlot(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/appointments", bookBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	a := decode[appointment.Appointment](t, rec)

	rec = do(t, h, http.MethodGet, "/availability?doctor_id=D1&date=2024-06-01&time=10:00&duration=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[AvailabilityResponse](t, rec)
	assert.False(t, avail.Available)
	assert.Equal(t, a.ID, avail.ConflictID)

	rec = do(t, h, http.MethodPatch, "/appointments/"+a.ID, `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.StatusCancelled, decode[appointment.Appointment](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/availability?doctor_id=D1&date=2024-06-01&time=10:00&duration=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AvailabilityResponse](t, rec).Available)
}

func TestAvailabilityHalfOpenAndExclude(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/appointments", strings.Replace(bookBody, `"10:00"`, `"09:00"`, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	a := decode[appointment.Appointment](t, rec)

	rec = do(t, h, http.MethodGet, "/availability?doctor_id=D1&date=2024-06-01&time=09:30&duration=30", "")
	assert.True(t, decode[AvailabilityResponse](t, rec).Available)

	rec = do(t, h, http.MethodGet, "/availability?doctor_id=D1&date=2024-06-01&time=09:15&duration=30", "")
	assert.False(t, decode[AvailabilityResponse](t, rec).Available)

	rec = do(t, h, http.MethodGet, "/availability?doctor_id=D1&date=2024-06-01&time=09:15&duration=30&exclude_id="+a.ID, "")
	assert.True(t, decode[AvailabilityResponse](t, rec).Available)

	rec = do(t, h, http.MethodGet, "/availability?doctor_id=D1&date=2024-06-01&time=9am&duration=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode[ErrorResponse](t, rec).Fields, 2)
}

func TestListFilters(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/appointments", bookBody).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/appointments", strings.Replace(bookBody, `"D1"`, `"D2"`, 1)).Code)

	rec := do(t, h, http.MethodGet, "/appointments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ListResponse](t, rec).Count)

	rec = do(t, h, http.MethodGet, "/appointments?doctor_id=D2&date=2024-06-01", "")
	list := decode[ListResponse](t, rec)
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, "D2", list.Appointments[0].DoctorID)

	rec = do(t, h, http.MethodGet, "/appointments?status=archived", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/appointments?patient_id=nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"appointments":[]`)
}

func TestDeleteAndNotFound(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/appointments", bookBody)
	a := decode[appointment.Appointment](t, rec)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/appointments/"+a.ID, "").Code)

	rec = do(t, h, http.MethodDelete, "/appointments/"+a.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodPatch, "/appointments/"+appointment.NewTempID(), `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLockContentionReturns503(t *testing.T) {
	busy := lockerFunc(func(context.Context, string, string, func(context.Context) error) error {
		return redisclient.ErrLockNotAcquired
	})
	h, _ := newTestRouter(t, busy)

	rec := do(t, h, http.MethodPost, "/appointments", bookBody)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeSlotBeingBooked, decode[ErrorResponse](t, rec).Error)
}

func TestHealthWithoutBackends(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	do(t, h, http.MethodPost, "/appointments", bookBody)
	do(t, h, http.MethodGet, "/appointments/missing", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `test_http_requests_total{method="GET",route="/appointments/{id}",status="404"} 1`)
	assert.Contains(t, body, `test_http_request_duration_seconds_bucket`)
}

type lockerFunc func(ctx context.Context, doctorID, date string, fn func(context.Context) error) error

func (f lockerFunc) WithDayLock(ctx context.Context, doctorID, date string, fn func(context.Context) error) error {
	return f(ctx, doctorID, date, fn)
}
