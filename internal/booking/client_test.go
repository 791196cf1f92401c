package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
)

func TestClientGetBooking(t *testing.T) {
	known := id.BookingID(uuid.New())
	broken := id.BookingID(uuid.New())
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/bookings/" + known.String():
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Booking{ID: known, ServiceType: "umrah", Status: StatusCompleted})
		case "/bookings/" + broken.String():
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok", Timeout: time.Second})
	ctx := context.Background()

	b, err := c.GetBooking(ctx, known)
	require.NoError(t, err)
	assert.True(t, b.Completed())
	assert.Equal(t, "umrah", b.ServiceType)
	assert.Equal(t, "Bearer tok", gotAuth)

	_, err = c.GetBooking(ctx, id.BookingID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = c.GetBooking(ctx, broken)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	b := Booking{ID: id.BookingID(uuid.New()), Status: StatusInProgress}
	d.Put(b)

	got, err := d.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, got.Active())

	_, err = d.GetBooking(context.Background(), id.BookingID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
