package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medloop/telecall/internal/config"
)

type passthroughLocker struct{}

func (passthroughLocker) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingDestroyer struct {
	mu        sync.Mutex
	destroyed []string
}

func (d *recordingDestroyer) Destroy(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = append(d.destroyed, roomID)
}

func (d *recordingDestroyer) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.destroyed...)
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, *recordingDestroyer) {
	t.Helper()
	repo := NewMemoryRepository()
	destroyer := &recordingDestroyer{}
	svc := NewService(repo, passthroughLocker{}, destroyer, config.Config{StaleSessionTTL: time.Hour})
	return svc, repo, destroyer
}

func seedPair(t *testing.T, repo *MemoryRepository) (patientID, clinicianID uuid.UUID) {
	t.Helper()
	patientID = uuid.New()
	clinicianID = uuid.New()
	repo.AddPatient(Patient{ID: patientID, Name: "Pat"})
	repo.AddClinician(Clinician{ID: clinicianID, Name: "Dr. Kim"})
	return patientID, clinicianID
}

func TestRequestStartConcurrentOnlyOneWins(t *testing.T) {
	svc, repo, _ := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	const racers = 32

	var wg sync.WaitGroup
	results := make(chan error, racers)
	rooms := make(chan string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			roomID, err := svc.RequestStart(context.Background(), appt.ID, clinicianID)
			results <- err
			if err == nil {
				rooms <- roomID
			}
		}()
	}
	wg.Wait()
	close(results)
	close(rooms)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)

	var minted []string
	for r := range rooms {
		minted = append(minted, r)
	}
	require.Len(t, minted, 1)

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, minted[0], *got.RoomID)
}

func TestRequestStartRejectsWrongClinician(t *testing.T) {
	svc, repo, _ := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.RequestStart(context.Background(), appt.ID, uuid.New())
	require.ErrorIs(t, err, ErrConflict)

	// The loser learns nothing and the record is untouched.
	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Nil(t, got.RoomID)
}

func TestRequestCompleteRequiresStarted(t *testing.T) {
	svc, repo, destroyer := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	err = svc.RequestComplete(context.Background(), appt.ID, clinicianID)
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, destroyer.all())
}

func TestRequestCompleteDestroysRoomOnce(t *testing.T) {
	svc, repo, destroyer := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	roomID, err := svc.RequestStart(context.Background(), appt.ID, clinicianID)
	require.NoError(t, err)

	require.NoError(t, svc.RequestComplete(context.Background(), appt.ID, clinicianID))
	assert.Equal(t, []string{roomID}, destroyer.all())

	// Double-clicking "end call" is harmless.
	err = svc.RequestComplete(context.Background(), appt.ID, clinicianID)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []string{roomID}, destroyer.all())

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, roomID, *got.RoomID)
}

func TestPatientCannotCompleteCall(t *testing.T) {
	svc, repo, _ := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = svc.RequestStart(context.Background(), appt.ID, clinicianID)
	require.NoError(t, err)

	err = svc.RequestComplete(context.Background(), appt.ID, patientID)
	require.ErrorIs(t, err, ErrConflict)

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
}

func TestLookupActiveSessionAuthorization(t *testing.T) {
	svc, repo, _ := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	view, err := svc.LookupActiveSession(context.Background(), appt.ID, patientID, RolePatient)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, view.Status)
	assert.Nil(t, view.RoomID)

	_, err = svc.LookupActiveSession(context.Background(), appt.ID, uuid.New(), RolePatient)
	require.ErrorIs(t, err, ErrNotAuthorized)

	// The clinician id presented with the patient role is still a stranger.
	_, err = svc.LookupActiveSession(context.Background(), appt.ID, clinicianID, RolePatient)
	require.ErrorIs(t, err, ErrNotAuthorized)

	roomID, err := svc.RequestStart(context.Background(), appt.ID, clinicianID)
	require.NoError(t, err)

	view, err = svc.LookupActiveSession(context.Background(), appt.ID, clinicianID, RoleClinician)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, view.Status)
	require.NotNil(t, view.RoomID)
	assert.Equal(t, roomID, *view.RoomID)
}

func TestBookEnforcesOneLiveAppointmentPerPatient(t *testing.T) {
	svc, repo, _ := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(2*time.Hour))
	require.ErrorIs(t, err, ErrPatientBusy)

	_, err = svc.RequestStart(context.Background(), appt.ID, clinicianID)
	require.NoError(t, err)
	require.NoError(t, svc.RequestComplete(context.Background(), appt.ID, clinicianID))

	_, err = svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
}

func TestAuthorizeJoin(t *testing.T) {
	svc, repo, _ := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Unknown room token reveals nothing.
	_, err = svc.AuthorizeJoin(context.Background(), "no-such-room", patientID, RolePatient)
	require.ErrorIs(t, err, ErrNotAuthorized)

	roomID, err := svc.RequestStart(context.Background(), appt.ID, clinicianID)
	require.NoError(t, err)

	got, err := svc.AuthorizeJoin(context.Background(), roomID, patientID, RolePatient)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = svc.AuthorizeJoin(context.Background(), roomID, uuid.New(), RolePatient)
	require.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.AuthorizeJoin(context.Background(), roomID, patientID, RoleClinician)
	require.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, svc.RequestComplete(context.Background(), appt.ID, clinicianID))

	// A completed appointment keeps its token but the room is gone for good.
	_, err = svc.AuthorizeJoin(context.Background(), roomID, patientID, RolePatient)
	require.ErrorIs(t, err, ErrConflict)
}

func TestReapStaleSessions(t *testing.T) {
	svc, repo, destroyer := newTestService(t)
	patientID, clinicianID := seedPair(t, repo)

	appt, err := svc.Book(context.Background(), patientID, clinicianID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	roomID, err := svc.RequestStart(context.Background(), appt.ID, clinicianID)
	require.NoError(t, err)

	// Fresh sessions are left alone.
	require.NoError(t, svc.ReapStaleSessions(context.Background()))
	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)

	// Age the session past the TTL.
	repo.mu.Lock()
	old := time.Now().Add(-2 * time.Hour)
	repo.appointments[appt.ID].StartedAt = &old
	repo.mu.Unlock()

	require.NoError(t, svc.ReapStaleSessions(context.Background()))

	got, err = repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Contains(t, destroyer.all(), roomID)
}
