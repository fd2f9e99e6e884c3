package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medloop/telecall/internal/api"
	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/config"
	"github.com/medloop/telecall/internal/room"
	"github.com/medloop/telecall/internal/signaling"
)

type noopLocker struct{}

func (noopLocker) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type apiHarness struct {
	router http.Handler
	repo   *appointment.MemoryRepository

	patientID   uuid.UUID
	clinicianID uuid.UUID
	strangerID  uuid.UUID
}

const (
	patientToken   = "patient-token"
	clinicianToken = "clinician-token"
	strangerToken  = "stranger-token"
)

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	registry := room.NewRegistry()
	svc := appointment.NewService(repo, noopLocker{}, registry, config.Config{StaleSessionTTL: time.Hour})

	h := &apiHarness{
		repo:        repo,
		patientID:   uuid.New(),
		clinicianID: uuid.New(),
		strangerID:  uuid.New(),
	}

	repo.AddPatient(appointment.Patient{ID: h.patientID, Name: "Pat"})
	repo.AddClinician(appointment.Clinician{ID: h.clinicianID, Name: "Dr. Kim"})
	repo.AddPatient(appointment.Patient{ID: h.strangerID, Name: "Somebody Else"})

	gate := auth.StaticAuthenticator{
		patientToken:   {ID: h.patientID, Role: appointment.RolePatient},
		clinicianToken: {ID: h.clinicianID, Role: appointment.RoleClinician},
		strangerToken:  {ID: h.strangerID, Role: appointment.RolePatient},
	}

	h.router = api.NewRouter(api.RouterConfig{
		Service: svc,
		Relay:   signaling.NewRelay(svc, registry, gate, nil),
		Gate:    gate,
		Env:     "test",
		Version: "test",
	})
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) book(t *testing.T) api.AppointmentResponse {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/appointments", patientToken, api.BookAppointmentRequest{
		ClinicianID: h.clinicianID.String(),
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt api.AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	return appt
}

func TestEndpointsRequireAuth(t *testing.T) {
	h := newAPIHarness(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/appointments"},
		{http.MethodPost, "/appointments/" + uuid.NewString() + "/start"},
		{http.MethodPost, "/appointments/" + uuid.NewString() + "/complete"},
		{http.MethodGet, "/appointments/" + uuid.NewString() + "/session"},
	} {
		rec := h.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := h.do(t, http.MethodPost, "/appointments", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookAppointment(t *testing.T) {
	h := newAPIHarness(t)

	appt := h.book(t)
	assert.Equal(t, h.patientID, appt.PatientID)
	assert.Equal(t, h.clinicianID, appt.ClinicianID)
	assert.Equal(t, string(appointment.StatusScheduled), appt.Status)
	assert.Nil(t, appt.RoomID)

	// Second live appointment for the same patient is refused.
	rec := h.do(t, http.MethodPost, "/appointments", patientToken, api.BookAppointmentRequest{
		ClinicianID: h.clinicianID.String(),
		ScheduledAt: time.Now().Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "patient_busy", errResp.Error)
}

func TestBookValidation(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/appointments", patientToken, api.BookAppointmentRequest{
		ClinicianID: "not-a-uuid",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/appointments", patientToken, api.BookAppointmentRequest{
		ClinicianID: h.clinicianID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Booking against an unknown clinician is a 404, not a silent accept.
	rec = h.do(t, http.MethodPost, "/appointments", patientToken, api.BookAppointmentRequest{
		ClinicianID: uuid.NewString(),
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatientStartIsIndistinguishableConflict(t *testing.T) {
	h := newAPIHarness(t)
	appt := h.book(t)

	// The ownership predicate inside the conditional transition rejects the
	// patient; the response is the same 409 as any other failed precondition.
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/start", appt.ID), patientToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "conflict", errResp.Error)

	// The failed attempt changed nothing: the rightful clinician still wins.
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/start", appt.ID), clinicianToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out api.StartSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.RoomID)
}

func TestSecondStartConflicts(t *testing.T) {
	h := newAPIHarness(t)
	appt := h.book(t)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/start", appt.ID), clinicianToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/start", appt.ID), clinicianToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "conflict", errResp.Error)
}

func TestCompleteSession(t *testing.T) {
	h := newAPIHarness(t)
	appt := h.book(t)

	// Completing a call that never started is the same conflict.
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/complete", appt.ID), clinicianToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/start", appt.ID), clinicianToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A patient attempting complete gets the same opaque conflict, not a
	// response that reveals the ownership rule.
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/complete", appt.ID), patientToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "conflict", errResp.Error)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/complete", appt.ID), clinicianToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/complete", appt.ID), clinicianToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestActiveSessionLookup(t *testing.T) {
	h := newAPIHarness(t)
	appt := h.book(t)
	path := fmt.Sprintf("/appointments/%s/session", appt.ID)

	rec := h.do(t, http.MethodGet, path, patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view api.ActiveSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, string(appointment.StatusScheduled), view.Status)
	assert.Nil(t, view.RoomID)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/start", appt.ID), clinicianToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, path, patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, string(appointment.StatusStarted), view.Status)
	require.NotNil(t, view.RoomID)
	assert.NotEmpty(t, *view.RoomID)

	// Authenticated but uninvolved users learn nothing.
	rec = h.do(t, http.MethodGet, path, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/appointments/%s/session", uuid.NewString()), patientToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/appointments/not-a-uuid/session", patientToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
