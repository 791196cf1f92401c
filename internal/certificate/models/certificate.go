// Package models holds the completion certificate, its public redacted
// view and the number and date formats printed on it.
package models

import (
	"fmt"
	"time"

	id "badal/pkg/domain"
)

// CompletionCertificate is immutable once stored. One exists per booking.
type CompletionCertificate struct {
	ID                 id.CertificateID `json:"id"`
	BookingID          id.BookingID     `json:"booking_id"`
	PilgrimID          id.ProviderID    `json:"pilgrim_id"`
	CertificateNumber  string           `json:"certificate_number"`
	QRVerificationCode string           `json:"qr_verification_code"`
	BeneficiaryName    string           `json:"beneficiary_name"`
	BeneficiaryNameAr  string           `json:"beneficiary_name_ar,omitempty"`
	ServiceType        string           `json:"service_type"`
	CompletedDate      time.Time        `json:"completed_date"`
	HijriDate          string           `json:"hijri_date,omitempty"`
	Location           string           `json:"location,omitempty"`
	AllStepsVerified   bool             `json:"all_steps_verified"`
	IssuedAt           time.Time        `json:"issued_at"`
}

func (c *CompletionCertificate) Clone() *CompletionCertificate {
	out := *c
	return &out
}

// IssueResult wraps an issued certificate. Reissued is true when the
// booking already had one and no new certificate was minted.
type IssueResult struct {
	Certificate *CompletionCertificate `json:"certificate"`
	Reissued    bool                   `json:"reissued"`
}

// FormatNumber renders the human-readable certificate number,
// e.g. BDL-2026-000042.
func FormatNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq)
}

// PilgrimSummary is the public part of the performing pilgrim's record.
type PilgrimSummary struct {
	CertificationStatus string `json:"certification_status"`
	CompletedRituals    int    `json:"completed_rituals"`
	HajjQualified       bool   `json:"hajj_qualified"`
}

// PublicCertificateView is what anonymous verification returns. It carries
// no contact data and no internal ids beyond the certificate number.
type PublicCertificateView struct {
	Valid             bool            `json:"valid"`
	CertificateNumber string          `json:"certificate_number"`
	BeneficiaryName   string          `json:"beneficiary_name"`
	BeneficiaryNameAr string          `json:"beneficiary_name_ar,omitempty"`
	ServiceType       string          `json:"service_type"`
	CompletedDate     string          `json:"completed_date"`
	HijriDate         string          `json:"hijri_date,omitempty"`
	Location          string          `json:"location,omitempty"`
	AllStepsVerified  bool            `json:"all_steps_verified"`
	IssuedAt          time.Time       `json:"issued_at"`
	Pilgrim           *PilgrimSummary `json:"pilgrim,omitempty"`
}

// PublicView redacts c. summary may be nil when the pilgrim record could
// not be read.
func (c *CompletionCertificate) PublicView(summary *PilgrimSummary) *PublicCertificateView {
	return &PublicCertificateView{
		Valid:             true,
		CertificateNumber: c.CertificateNumber,
		BeneficiaryName:   c.BeneficiaryName,
		BeneficiaryNameAr: c.BeneficiaryNameAr,
		ServiceType:       c.ServiceType,
		CompletedDate:     c.CompletedDate.Format("2006-01-02"),
		HijriDate:         c.HijriDate,
		Location:          c.Location,
		AllStepsVerified:  c.AllStepsVerified,
		IssuedAt:          c.IssuedAt,
		Pilgrim:           summary,
	}
}
