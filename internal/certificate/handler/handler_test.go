package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"badal/internal/certificate/models"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router   chi.Router
	issuer   *stubIssuer
	verifier *stubVerifier
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.issuer = &stubIssuer{}
	s.verifier = &stubVerifier{}
	h := New(s.issuer, s.verifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.router = chi.NewRouter()
	h.RegisterSystemRoutes(s.router)
	h.RegisterPublicRoutes(s.router)
}

func (s *HandlerSuite) issue(bookingID string) *http.Request {
	req := testutil.NewRequest(s.T(), http.MethodPost, "/internal/bookings/"+bookingID+"/certificate")
	return testutil.WithActor(req, id.SystemActor)
}

func (s *HandlerSuite) TestIssueStatusReflectsReissue() {
	t := s.T()
	bookingID := uuid.NewString()
	cert := &models.CompletionCertificate{CertificateNumber: "BDL-2026-000001"}

	s.issuer.result = &models.IssueResult{Certificate: cert}
	rr := testutil.DoRequest(s.router, s.issue(bookingID))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	s.Equal(id.RoleSystem, s.issuer.actor.Role)
	s.Equal(bookingID, s.issuer.bookingID.String())

	s.issuer.result = &models.IssueResult{Certificate: cert, Reissued: true}
	rr = testutil.DoRequest(s.router, s.issue(bookingID))
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertJSONContains(t, rr, "reissued", true)
}

func (s *HandlerSuite) TestIssueErrors() {
	t := s.T()
	rr := testutil.DoRequest(s.router, s.issue("not-a-uuid"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))

	s.issuer.err = dErrors.New(dErrors.CodeNotAllStepsVerified, "step 2 (tawaf) awaits verification")
	rr = testutil.DoRequest(s.router, s.issue(uuid.NewString()))
	testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, string(dErrors.CodeNotAllStepsVerified))
}

func (s *HandlerSuite) TestVerify() {
	t := s.T()
	s.verifier.view = &models.PublicCertificateView{Valid: true, CertificateNumber: "BDL-2026-000001"}

	rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/verify?code=BDL-2026-000001"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "certificate_number", "BDL-2026-000001")
	s.Equal("no-store", rr.Header().Get("Cache-Control"))
	s.Equal("BDL-2026-000001", s.verifier.code)
}

func (s *HandlerSuite) TestVerifyFailuresLookAlike() {
	t := s.T()
	for _, err := range []error{
		dErrors.New(dErrors.CodeNotFound, "certificate not found"),
		dErrors.Wrap(errors.New("db down"), dErrors.CodeInternal, "certificate lookup failed"),
	} {
		s.verifier.err = err
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/verify?code=x"))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
		s.JSONEq(`{"valid":false}`, string(testutil.ReadBody(t, rr)))
	}
}

type stubIssuer struct {
	actor     id.Actor
	bookingID id.BookingID
	result    *models.IssueResult
	err       error
}

func (s *stubIssuer) IssueCertificate(_ context.Context, actor id.Actor, bookingID id.BookingID) (*models.IssueResult, error) {
	s.actor, s.bookingID = actor, bookingID
	return s.result, s.err
}

type stubVerifier struct {
	code string
	view *models.PublicCertificateView
	err  error
}

func (s *stubVerifier) Verify(_ context.Context, code string) (*models.PublicCertificateView, error) {
	s.code = code
	return s.view, s.err
}
