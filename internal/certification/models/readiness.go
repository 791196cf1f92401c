package models

// Requirement names one item a provider must supply before submitting.
type Requirement string

const (
	RequirementGovernmentID Requirement = "government_id"
	RequirementPhoto        Requirement = "photo"
	RequirementOwnUmrah     Requirement = "own_umrah"
	RequirementVideoOath    Requirement = "video_oath"
)

var requirementMessages = map[Requirement]string{
	RequirementGovernmentID: "Upload a government-issued ID document.",
	RequirementPhoto:        "Upload a recent photo of yourself.",
	RequirementOwnUmrah:     "Confirm you have performed your own Umrah and give its date.",
	RequirementVideoOath:    "Record and upload the video oath.",
}

// Message is a plain-language instruction for the provider UI.
func (r Requirement) Message() string {
	return requirementMessages[r]
}

func requirementChecks(c *PilgrimCertification) []struct {
	req Requirement
	met bool
} {
	return []struct {
		req Requirement
		met bool
	}{
		{RequirementGovernmentID, c.GovernmentIDRef != ""},
		{RequirementPhoto, c.PhotoRef != ""},
		{RequirementOwnUmrah, c.HasOwnUmrah && c.OwnUmrahDate != nil},
		{RequirementVideoOath, c.VideoOathRef != ""},
	}
}

// MissingRequirements lists unmet items in display order. Hajj attestation
// is informational and never listed.
func MissingRequirements(c *PilgrimCertification) []Requirement {
	if c == nil {
		return []Requirement{RequirementGovernmentID, RequirementPhoto, RequirementOwnUmrah, RequirementVideoOath}
	}
	var missing []Requirement
	for _, check := range requirementChecks(c) {
		if !check.met {
			missing = append(missing, check.req)
		}
	}
	return missing
}

// CompletionPercentage weighs the four required items equally.
func CompletionPercentage(c *PilgrimCertification) int {
	if c == nil {
		return 0
	}
	checks := requirementChecks(c)
	met := 0
	for _, check := range checks {
		if check.met {
			met++
		}
	}
	return met * 100 / len(checks)
}

// IsReadyForSubmission is true when every required item is present and the
// record has not yet entered review.
func IsReadyForSubmission(c *PilgrimCertification) bool {
	if c == nil {
		return false
	}
	if c.Status != StatusPending && c.Status != StatusInactive {
		return false
	}
	return len(MissingRequirements(c)) == 0
}
