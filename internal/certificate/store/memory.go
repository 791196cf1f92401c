package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"badal/internal/certificate/models"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
	"badal/pkg/platform/tx"
)

// InMemoryStore keeps certificates in maps indexed by booking, number and
// QR code. Numbers come from a per-year counter. Work done inside
// WithBookingLock is undone when fn fails, and numbers it drew are handed
// out again, so failed issuances leave no gaps.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[id.CertificateID]*models.CompletionCertificate
	byBooking map[id.BookingID]id.CertificateID
	byCode    map[string]id.CertificateID
	counters  map[int]int
	returned  map[int][]int
	locks     tx.ShardedMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[id.CertificateID]*models.CompletionCertificate),
		byBooking: make(map[id.BookingID]id.CertificateID),
		byCode:    make(map[string]id.CertificateID),
		counters:  make(map[int]int),
		returned:  make(map[int][]int),
	}
}

type undoKey struct{}

// undoLog collects compensations for writes made under a booking lock.
// Entries run with s.mu held.
type undoLog struct {
	steps []func()
}

func (u *undoLog) add(step func()) {
	if u != nil {
		u.steps = append(u.steps, step)
	}
}

func undoFrom(ctx context.Context) *undoLog {
	u, _ := ctx.Value(undoKey{}).(*undoLog)
	return u
}

func (s *InMemoryStore) WithBookingLock(ctx context.Context, bookingID id.BookingID, fn func(ctx context.Context) error) error {
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()
	if undoFrom(ctx) != nil {
		return fn(ctx)
	}
	log := &undoLog{}
	err := fn(context.WithValue(ctx, undoKey{}, log))
	if err != nil {
		s.mu.Lock()
		for i := len(log.steps) - 1; i >= 0; i-- {
			log.steps[i]()
		}
		s.mu.Unlock()
	}
	return err
}

func (s *InMemoryStore) FindByBooking(_ context.Context, bookingID id.BookingID) (*models.CompletionCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cid, ok := s.byBooking[bookingID]
	if !ok {
		return nil, fmt.Errorf("certificate for booking %s: %w", bookingID, sentinel.ErrNotFound)
	}
	return s.byID[cid].Clone(), nil
}

// FindByCode matches either the certificate number or the QR code.
func (s *InMemoryStore) FindByCode(_ context.Context, code string) (*models.CompletionCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cid, ok := s.byCode[codeKey(code)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[cid].Clone(), nil
}

// NextNumber hands out the lowest returned number for year, if any, before
// advancing the counter.
func (s *InMemoryStore) NextNumber(ctx context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if free := s.returned[year]; len(free) > 0 {
		n = free[0]
		s.returned[year] = free[1:]
	} else {
		s.counters[year]++
		n = s.counters[year]
	}
	undoFrom(ctx).add(func() { s.giveBack(year, n) })
	return n, nil
}

// giveBack returns an unused number. Caller holds s.mu.
func (s *InMemoryStore) giveBack(year, n int) {
	if s.counters[year] == n {
		s.counters[year]--
		return
	}
	free := append(s.returned[year], n)
	slices.Sort(free)
	s.returned[year] = free
}

func (s *InMemoryStore) Create(ctx context.Context, c *models.CompletionCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byBooking[c.BookingID]; ok {
		return fmt.Errorf("certificate for booking %s: %w", c.BookingID, sentinel.ErrConflict)
	}
	number, qr := codeKey(c.CertificateNumber), codeKey(c.QRVerificationCode)
	if _, ok := s.byCode[number]; ok {
		return fmt.Errorf("certificate number %s: %w", c.CertificateNumber, sentinel.ErrConflict)
	}
	if _, ok := s.byCode[qr]; ok {
		return fmt.Errorf("certificate qr code: %w", sentinel.ErrConflict)
	}
	s.byID[c.ID] = c.Clone()
	s.byBooking[c.BookingID] = c.ID
	s.byCode[number] = c.ID
	s.byCode[qr] = c.ID
	undoFrom(ctx).add(func() {
		delete(s.byID, c.ID)
		delete(s.byBooking, c.BookingID)
		delete(s.byCode, number)
		delete(s.byCode, qr)
	})
	return nil
}

// codeKey normalizes lookups. Numbers and QR codes are both issued upper
// case, so case is folded rather than rejected.
func codeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
