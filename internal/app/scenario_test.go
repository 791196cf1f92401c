package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badal/internal/booking"
	jwttoken "badal/internal/jwt_token"
	"badal/internal/platform/config"
	"badal/internal/policy"
	id "badal/pkg/domain"
	"badal/pkg/testutil"
)

// =============================================================================
// End-to-end scenarios over the HTTP surface
// =============================================================================
// Justification: each scenario crosses the certification, capacity, ledger
// and certificate components through the real router, middleware and
// bearer tokens, with in-memory storage.

const testSigningKey = "scenario-signing-key"

type harness struct {
	t        *testing.T
	router   http.Handler
	tokens   *jwttoken.JWTService
	bookings *booking.Directory
	scholar  id.Actor
	system   id.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Server{
		Addr:            ":0",
		JWTSigningKey:   testSigningKey,
		ShutdownTimeout: time.Second,
		Storage:         "memory",
		Workers:         config.WorkerConfig{SweepSchedule: "@every 10m"},
	}
	pol := policy.Default()
	pol.Certificate.LookupFloor = 5 * time.Millisecond
	a, err := New(context.Background(), cfg, pol, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &harness{
		t:        t,
		router:   a.Router(),
		tokens:   jwttoken.NewJWTService(testSigningKey, TokenIssuer, TokenAudience),
		bookings: a.Bookings,
		scholar:  id.Actor{ID: id.UserID(uuid.New()), Role: id.RoleScholar},
		system:   id.Actor{ID: id.UserID(uuid.New()), Role: id.RoleSystem},
	}
}

func (h *harness) do(actor *id.Actor, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(h.t, method, path, body)
	} else {
		req = testutil.NewRequest(h.t, method, path)
	}
	if actor != nil {
		token, err := h.tokens.GenerateAccessToken(uuid.UUID(actor.ID), actor.Role, time.Hour)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(h.router, req)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

// verifiedProvider takes a new provider through draft, submission and
// scholar approval.
func (h *harness) verifiedProvider() id.Actor {
	t := h.t
	provider := id.Actor{ID: id.UserID(uuid.New()), Role: id.RoleProvider}
	rr := h.do(&provider, http.MethodPut, "/pilgrim/certification", map[string]any{
		"government_id_ref": "s3://ids/1.pdf",
		"photo_ref":         "s3://photos/1.jpg",
		"has_own_umrah":     true,
		"own_umrah_date":    "2019-03-10",
		"video_oath_ref":    "s3://oaths/1.mp4",
	})
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertJSONContains(t, rr, "ready_for_submission", true)

	rr = h.do(&provider, http.MethodPost, "/pilgrim/certification/submit", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = h.do(&h.scholar, http.MethodPost, "/admin/certifications/"+provider.ID.String()+"/approve",
		map[string]string{"notes": "documents check out"})
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertJSONContains(t, rr, "status", "verified")
	return provider
}

func (h *harness) openBooking(provider id.Actor) id.BookingID {
	t := h.t
	bookingID := id.BookingID(uuid.New())
	rr := h.do(&h.system, http.MethodPost, "/internal/providers/"+provider.ID.String()+"/reservations",
		map[string]string{"booking_id": bookingID.String()})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	h.bookings.Put(booking.Booking{
		ID:              bookingID,
		ProviderID:      id.ProviderID(provider.ID),
		BeneficiaryID:   id.BeneficiaryID(uuid.New()),
		BeneficiaryName: "Fatima Rahman",
		ServiceType:     "umrah",
		Status:          booking.StatusInProgress,
		Location:        "Makkah",
	})
	return bookingID
}

func (h *harness) completeBooking(bookingID id.BookingID) {
	b, err := h.bookings.GetBooking(context.Background(), bookingID)
	require.NoError(h.t, err)
	completed := time.Now().UTC()
	b.Status = booking.StatusCompleted
	b.CompletedAt = &completed
	h.bookings.Put(*b)
}

func (h *harness) appendStep(provider id.Actor, bookingID id.BookingID, body map[string]any) map[string]any {
	h.t.Helper()
	rr := h.do(&provider, http.MethodPost, "/bookings/"+bookingID.String()+"/ritual-events", body)
	testutil.AssertStatus(h.t, rr, http.StatusCreated)
	return decode(h.t, rr)
}

func TestScenario_CompletedBadalEarnsVerifiableCertificate(t *testing.T) {
	h := newHarness(t)
	provider := h.verifiedProvider()
	bookingID := h.openBooking(provider)
	var eventIDs []string
	var certificateNumber string

	testutil.When(t, "the provider records each ritual step in order", func(t *testing.T) {
		for i, step := range []string{"ihram", "tawaf", "sai", "halq"} {
			ev := h.appendStep(provider, bookingID, map[string]any{
				"ritual_step":                step,
				"step_order":                 i + 1,
				"device_fingerprint":         "device-a",
				"beneficiary_name_mentioned": step == "ihram",
				"media_type":                 "video",
				"media_ref":                  "s3://media/" + step + ".mp4",
				"media_hash":                 uuid.NewString(),
			})
			assert.Equal(t, false, ev["is_flagged"])
			eventIDs = append(eventIDs, ev["id"].(string))
		}
	})

	testutil.Then(t, "issuance waits for completion and review", func(t *testing.T) {
		rr := h.do(&h.system, http.MethodPost, "/internal/bookings/"+bookingID.String()+"/certificate", nil)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "not_all_steps_verified")

		h.completeBooking(bookingID)
		rr = h.do(&h.system, http.MethodPost, "/internal/bookings/"+bookingID.String()+"/certificate", nil)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "not_all_steps_verified")
	})

	testutil.When(t, "a scholar verifies every step", func(t *testing.T) {
		for _, eventID := range eventIDs {
			rr := h.do(&h.scholar, http.MethodPost, "/admin/ritual-events/"+eventID+"/verify", map[string]string{})
			testutil.AssertStatus(t, rr, http.StatusOK)
			testutil.AssertJSONContains(t, rr, "verified", true)
		}
	})

	testutil.Then(t, "the booking service obtains a certificate exactly once", func(t *testing.T) {
		rr := h.do(&h.system, http.MethodPost, "/internal/bookings/"+bookingID.String()+"/certificate", nil)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		cert := decode(t, rr)["certificate"].(map[string]any)
		certificateNumber = cert["certificate_number"].(string)
		assert.True(t, strings.HasPrefix(certificateNumber, "BDL-"))
		assert.Equal(t, "Fatima Rahman", cert["beneficiary_name"])

		rr = h.do(&h.system, http.MethodPost, "/internal/bookings/"+bookingID.String()+"/certificate", nil)
		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertJSONContains(t, rr, "reissued", true)
	})

	testutil.Then(t, "anyone can verify it and the pilgrim is credited", func(t *testing.T) {
		rr := h.do(nil, http.MethodGet, "/verify?code="+certificateNumber, nil)
		testutil.AssertStatusOK(t, rr)
		view := decode(t, rr)
		assert.Equal(t, true, view["valid"])
		pilgrim := view["pilgrim"].(map[string]any)
		assert.Equal(t, "verified", pilgrim["certification_status"])
		assert.EqualValues(t, 1, pilgrim["completed_rituals"])

		rr = h.do(&h.system, http.MethodGet, "/internal/providers/"+provider.ID.String()+"/reservations", nil)
		testutil.AssertJSONContains(t, rr, "count", float64(0))

		rr = h.do(&provider, http.MethodGet, "/pilgrim/certification", nil)
		testutil.AssertJSONContains(t, rr, "total_completed_rituals", float64(1))
	})
}

func TestScenario_ReusedMediaIsFlaggedForReview(t *testing.T) {
	h := newHarness(t)
	provider := h.verifiedProvider()
	first := h.openBooking(provider)
	second := h.openBooking(provider)
	var flaggedID string

	testutil.Given(t, "a video recorded for one booking", func(t *testing.T) {
		ev := h.appendStep(provider, first, map[string]any{
			"ritual_step": "ihram", "step_order": 1, "beneficiary_name_mentioned": true,
			"media_type": "video", "media_ref": "s3://media/a.mp4", "media_hash": "SHA256:ABC",
		})
		assert.Equal(t, false, ev["is_flagged"])
	})

	testutil.When(t, "the same video is submitted for another booking", func(t *testing.T) {
		ev := h.appendStep(provider, second, map[string]any{
			"ritual_step": "ihram", "step_order": 1, "beneficiary_name_mentioned": true,
			"media_type": "video", "media_ref": "s3://media/b.mp4", "media_hash": "sha256:abc",
		})
		assert.Equal(t, true, ev["is_flagged"])
		assert.Equal(t, "DuplicateMedia", ev["flag_reason"])
		flaggedID = ev["id"].(string)
	})

	testutil.Then(t, "it waits in the scholar queue and clearing it needs notes", func(t *testing.T) {
		rr := h.do(&h.scholar, http.MethodGet, "/admin/ritual-events/flagged", nil)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "count", float64(1))

		rr = h.do(&provider, http.MethodGet, "/admin/ritual-events/flagged", nil)
		testutil.AssertStatus(t, rr, http.StatusForbidden)

		rr = h.do(&h.scholar, http.MethodPost, "/admin/ritual-events/"+flaggedID+"/verify", map[string]string{})
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "notes_required")

		rr = h.do(&h.scholar, http.MethodPost, "/admin/ritual-events/"+flaggedID+"/verify",
			map[string]string{"notes": "provider re-uploaded the same file by mistake, confirmed by call"})
		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertJSONContains(t, rr, "is_flagged", true)
		testutil.AssertJSONContains(t, rr, "verified", true)

		rr = h.do(&h.scholar, http.MethodGet, "/admin/ritual-events/flagged", nil)
		testutil.AssertJSONContains(t, rr, "count", float64(0))
	})
}

func TestScenario_CapacityIsEnforced(t *testing.T) {
	h := newHarness(t)
	provider := h.verifiedProvider()
	reservations := "/internal/providers/" + provider.ID.String() + "/reservations"

	testutil.Given(t, "a newly verified provider at full capacity", func(t *testing.T) {
		for range policy.Default().Trust.InitialCapacity {
			h.openBooking(provider)
		}
		rr := h.do(&provider, http.MethodGet, "/pilgrim/certification/capacity", nil)
		testutil.AssertJSONContains(t, rr, "current_active_badal", float64(3))
	})

	testutil.Then(t, "the next reservation is refused until a slot frees up", func(t *testing.T) {
		rr := h.do(&h.system, http.MethodPost, reservations, map[string]string{"booking_id": uuid.NewString()})
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "capacity_exceeded")

		rr = h.do(&h.system, http.MethodGet, reservations, nil)
		list := decode(t, rr)["reservations"].([]any)
		bookingID := list[0].(map[string]any)["booking_id"].(string)
		rr = h.do(&h.system, http.MethodPost, "/internal/providers/"+provider.ID.String()+"/bookings/"+bookingID+"/release", nil)
		testutil.AssertStatusOK(t, rr)

		rr = h.do(&h.system, http.MethodPost, reservations, map[string]string{"booking_id": uuid.NewString()})
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})

	testutil.Then(t, "unverified providers get no slots", func(t *testing.T) {
		stranger := uuid.NewString()
		rr := h.do(&h.system, http.MethodPost, "/internal/providers/"+stranger+"/reservations",
			map[string]string{"booking_id": uuid.NewString()})
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "ineligible")
	})
}

func TestScenario_AccessControl(t *testing.T) {
	h := newHarness(t)
	provider := id.Actor{ID: id.UserID(uuid.New()), Role: id.RoleProvider}

	rr := h.do(nil, http.MethodGet, "/pilgrim/certification", nil)
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	rr = h.do(&provider, http.MethodGet, "/admin/certifications?status=under_review", nil)
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")

	rr = h.do(&provider, http.MethodPost, "/internal/bookings/"+uuid.NewString()+"/certificate", nil)
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = h.do(nil, http.MethodGet, "/verify?code=BDL-2026-000404", nil)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	assert.JSONEq(t, `{"valid":false}`, rr.Body.String())

	rr = h.do(nil, http.MethodGet, "/healthz", nil)
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")
}
