package handler

import (
	"badal/internal/certification/models"
)

// Requirement is one unmet readiness item with its provider-facing message.
type Requirement struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CertificationResponse is the certification plus its readiness summary.
type CertificationResponse struct {
	*models.PilgrimCertification
	CompletionPercentage int           `json:"completion_percentage"`
	ReadyForSubmission   bool          `json:"ready_for_submission"`
	MissingRequirements  []Requirement `json:"missing_requirements"`
	HajjQualified        bool          `json:"hajj_qualified"`
}

func toResponse(c *models.PilgrimCertification) *CertificationResponse {
	missing := make([]Requirement, 0)
	for _, req := range models.MissingRequirements(c) {
		missing = append(missing, Requirement{Code: string(req), Message: req.Message()})
	}
	return &CertificationResponse{
		PilgrimCertification: c,
		CompletionPercentage: models.CompletionPercentage(c),
		ReadyForSubmission:   models.IsReadyForSubmission(c),
		MissingRequirements:  missing,
		HajjQualified:        c.HajjQualified(),
	}
}

type listResponse struct {
	Certifications []*CertificationResponse `json:"certifications"`
	Count          int                      `json:"count"`
}

func toListResponse(list []*models.PilgrimCertification) listResponse {
	out := listResponse{Certifications: make([]*CertificationResponse, 0, len(list)), Count: len(list)}
	for _, c := range list {
		out.Certifications = append(out.Certifications, toResponse(c))
	}
	return out
}
