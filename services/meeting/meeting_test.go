package meeting

import (
	"context"
	"testing"
	"time"

	"consulta/database/repository/meeting"
	"consulta/models"

	"github.com/stretchr/testify/require"
)

type fakeCalendarWriter struct {
	created int
	removed int
}

func (f *fakeCalendarWriter) CreateEvent(ctx context.Context, expertID models.ExpertID, summary string, start, end time.Time) (string, error) {
	f.created++
	return "gcal-event-1", nil
}

func (f *fakeCalendarWriter) RemoveEvent(ctx context.Context, expertID models.ExpertID, externalID string) error {
	f.removed++
	return nil
}

type fakeVoider struct {
	voided []models.MeetingID
}

func (f *fakeVoider) VoidIfNotDisbursed(ctx context.Context, meetingID models.MeetingID, now time.Time) error {
	f.voided = append(f.voided, meetingID)
	return nil
}

func newTestMeeting() models.Meeting {
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	return models.Meeting{
		ID:            "meeting-1",
		ExpertID:      "expert-1",
		GuestID:       "guest-1",
		StartInstant:  start,
		EndInstant:    start.Add(time.Hour),
		PaymentStatus: models.PaymentCaptured,
		ReservationID: "res-1",
		CreatedAt:     start.Add(-time.Minute),
	}
}

func TestCreate_SetsExternalCalendarEntry(t *testing.T) {
	repo := meeting.NewInMemoryRepository()
	cal := &fakeCalendarWriter{}
	l := New(repo, cal, nil, nil)

	created, err := l.Create(context.Background(), newTestMeeting())
	require.NoError(t, err)
	require.Equal(t, 1, cal.created)
	require.Equal(t, "gcal-event-1", created.ExternalCalendarEntryID)
}

func TestCreate_ConflictMapsToAppErr(t *testing.T) {
	repo := meeting.NewInMemoryRepository()
	l := New(repo, nil, nil, nil)

	m := newTestMeeting()
	_, err := l.Create(context.Background(), m)
	require.NoError(t, err)

	dup := newTestMeeting()
	dup.ID = "meeting-2"
	_, err = l.Create(context.Background(), dup)
	require.Error(t, err)
}

func TestCancel_RemovesCalendarEntryAndVoidsTransfer(t *testing.T) {
	repo := meeting.NewInMemoryRepository()
	cal := &fakeCalendarWriter{}
	voider := &fakeVoider{}
	l := New(repo, cal, voider, nil)

	m := newTestMeeting()
	created, err := l.Create(context.Background(), m)
	require.NoError(t, err)

	cancelled, err := l.Cancel(context.Background(), created.ID, time.Now(), models.CancelledByGuest, "schedule conflict")
	require.NoError(t, err)
	require.True(t, cancelled.IsCancelled())
	require.Equal(t, 1, cal.removed)
	require.Equal(t, []models.MeetingID{created.ID}, voider.voided)
}

func TestCancel_NotFoundMapsToAppErr(t *testing.T) {
	repo := meeting.NewInMemoryRepository()
	l := New(repo, nil, nil, nil)

	_, err := l.Cancel(context.Background(), "missing", time.Now(), models.CancelledBySystem, "")
	require.Error(t, err)
}
