package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"badal/internal/booking"
	"badal/internal/policy"
	"badal/internal/ritual/models"
	"badal/internal/ritual/service"
	"badal/internal/ritual/store"
	id "badal/pkg/domain"
	"badal/pkg/requestcontext"
	"badal/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router     chi.Router
	providerID id.ProviderID
	bookingID  id.BookingID
	scholar    id.Actor
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.providerID = id.ProviderID(uuid.New())
	s.bookingID = id.BookingID(uuid.New())
	s.scholar = id.Actor{ID: id.UserID(uuid.New()), Role: id.RoleScholar}

	dir := booking.NewDirectory()
	dir.Put(booking.Booking{
		ID:            s.bookingID,
		ProviderID:    s.providerID,
		BeneficiaryID: id.BeneficiaryID(uuid.New()),
		ServiceType:   "umrah",
		Status:        booking.StatusInProgress,
	})
	svc, err := service.New(store.NewInMemoryStore(), dir, policy.Default().Fraud)
	s.Require().NoError(err)
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.router = chi.NewRouter()
	h.RegisterProviderRoutes(s.router)
	h.RegisterReviewerRoutes(s.router)
}

func (s *HandlerSuite) eventsPath() string {
	return "/bookings/" + s.bookingID.String() + "/ritual-events"
}

func (s *HandlerSuite) append(body map[string]any) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, s.eventsPath(), body)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "10.0.0.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"))
	return testutil.AsProvider(req, s.providerID)
}

func (s *HandlerSuite) TestAppendFlagAndVerify() {
	t := s.T()

	rr := testutil.DoRequest(s.router, s.append(map[string]any{
		"ritual_step":                "ihram",
		"step_order":                 1,
		"beneficiary_name_mentioned": true,
		"device_fingerprint":         "dev-1",
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	first := testutil.UnmarshalResponse[models.RitualEvent](t, rr)
	s.False(first.IsFlagged)
	s.Contains(first.ClientPlatform, "Chrome")

	rr = testutil.DoRequest(s.router, s.append(map[string]any{
		"ritual_step":        "talbiyah",
		"step_order":         2,
		"device_fingerprint": "dev-1",
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	testutil.AssertJSONContains(t, rr, "flag_reason", "MissingAttribution")
	flagged := testutil.UnmarshalResponse[models.RitualEvent](t, rr)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/ritual-events/flagged")
	rr = testutil.DoRequest(s.router, testutil.WithActor(req, s.scholar))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "count", float64(1))

	req = testutil.NewJSONRequest(t, http.MethodPost, "/admin/ritual-events/"+flagged.ID.String()+"/verify",
		map[string]string{"notes": "name spoken, audio confirmed"})
	rr = testutil.DoRequest(s.router, testutil.WithActor(req, s.scholar))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "verified", true)
	testutil.AssertJSONContains(t, rr, "is_flagged", true)

	req = testutil.NewRequest(t, http.MethodGet, s.eventsPath())
	rr = testutil.DoRequest(s.router, testutil.AsProvider(req, s.providerID))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "count", float64(2))
}

func (s *HandlerSuite) TestSequencingErrors() {
	t := s.T()
	rr := testutil.DoRequest(s.router, s.append(map[string]any{"ritual_step": "ihram", "step_order": 2}))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "out_of_order")

	rr = testutil.DoRequest(s.router, s.append(map[string]any{"ritual_step": "ihram", "step_order": 1, "beneficiary_name_mentioned": true}))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr = testutil.DoRequest(s.router, s.append(map[string]any{"ritual_step": "ihram", "step_order": 1}))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "duplicate_step")
}

func (s *HandlerSuite) TestRequestValidation() {
	t := s.T()
	cases := map[string]map[string]any{
		"missing step":          {"step_order": 1},
		"zero order":            {"ritual_step": "ihram", "step_order": 0},
		"bad media type":        {"ritual_step": "ihram", "step_order": 1, "media_type": "hologram"},
		"hash without ref":      {"ritual_step": "ihram", "step_order": 1, "media_hash": "abc"},
		"latitude out of range": {"ritual_step": "ihram", "step_order": 1, "geo_location": map[string]float64{"lat": 91, "lng": 0}},
	}
	for name, body := range cases {
		s.Run(name, func() {
			rr := testutil.DoRequest(s.router, s.append(body))
			testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
		})
	}

	req := testutil.NewRequest(t, http.MethodGet, "/admin/ritual-events/flagged?limit=-1")
	rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.scholar))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}
