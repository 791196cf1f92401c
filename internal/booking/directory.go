package booking

import (
	"context"
	"sync"

	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
)

// Directory is an in-process Lookup for local runs and tests. The booking
// service pushes state into it through Put.
type Directory struct {
	mu       sync.RWMutex
	bookings map[id.BookingID]Booking
}

func NewDirectory() *Directory {
	return &Directory{bookings: make(map[id.BookingID]Booking)}
}

func (d *Directory) Put(b Booking) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bookings[b.ID] = b
}

func (d *Directory) GetBooking(_ context.Context, bookingID id.BookingID) (*Booking, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bookings[bookingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &b, nil
}
