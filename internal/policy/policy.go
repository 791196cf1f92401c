// Package policy holds the versioned, validated policy constants that
// govern trust scoring, capacity, fraud rules and certificate issuance.
// Changing any value means shipping a new policy version.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	stringutil "badal/pkg/platform/strings"
)

type Policy struct {
	Version     string      `yaml:"version" validate:"required"`
	Trust       Trust       `yaml:"trust"`
	Fraud       Fraud       `yaml:"fraud"`
	Ledger      Ledger      `yaml:"ledger"`
	Capacity    Capacity    `yaml:"capacity"`
	Certificate Certificate `yaml:"certificate"`
}

type Trust struct {
	InitialScore        int `yaml:"initial_score" validate:"gte=0,lte=100"`
	InitialCapacity     int `yaml:"initial_capacity" validate:"gte=0"`
	CompletionIncrement int `yaml:"completion_increment" validate:"gte=0,lte=100"`
	// CapacityGrowthEvery completed rituals add one slot, up to MaxCapacity.
	CapacityGrowthEvery int        `yaml:"capacity_growth_every" validate:"gte=1"`
	MaxCapacity         int        `yaml:"max_capacity" validate:"gtefield=InitialCapacity"`
	Deductions          Deductions `yaml:"deductions"`
	SuspensionThreshold int        `yaml:"suspension_threshold" validate:"gte=0,lte=100"`
	// More than ViolationCeiling violations inside ViolationWindow triggers a
	// suspension recommendation.
	ViolationCeiling int           `yaml:"violation_ceiling" validate:"gte=0"`
	ViolationWindow  time.Duration `yaml:"violation_window" validate:"gt=0"`
}

type Deductions struct {
	Minor    int `yaml:"minor" validate:"gte=0,lte=100"`
	Major    int `yaml:"major" validate:"gte=0,lte=100,gtefield=Minor"`
	Critical int `yaml:"critical" validate:"gte=0,lte=100,gtefield=Major"`
}

type Fraud struct {
	MaxTravelSpeedKmh float64 `yaml:"max_travel_speed_kmh" validate:"gt=0"`
	// AttributionSteps must name the beneficiary aloud.
	AttributionSteps []string `yaml:"attribution_steps"`
}

type Ledger struct {
	// RequiredSteps lists, per service type, the steps a booking must record
	// before a certificate can be issued.
	RequiredSteps map[string][]string `yaml:"required_steps"`
	// RequireVerificationOfUnflagged makes every event, not only flagged
	// ones, need a human verification before issuance.
	RequireVerificationOfUnflagged bool `yaml:"require_verification_of_unflagged"`
}

type Capacity struct {
	ReservationTimeout time.Duration `yaml:"reservation_timeout" validate:"gt=0"`
}

type Certificate struct {
	NumberPrefix string        `yaml:"number_prefix" validate:"required,alphanum,max=8"`
	LookupFloor  time.Duration `yaml:"lookup_floor" validate:"gte=0"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// Default returns the baseline policy. Numbers other than the initial score
// and capacity are placeholders for the adopting organization to set.
func Default() Policy {
	return Policy{
		Version: "2026.1",
		Trust: Trust{
			InitialScore:        50,
			InitialCapacity:     3,
			CompletionIncrement: 2,
			CapacityGrowthEvery: 10,
			MaxCapacity:         10,
			Deductions:          Deductions{Minor: 5, Major: 15, Critical: 30},
			SuspensionThreshold: 20,
			ViolationCeiling:    3,
			ViolationWindow:     90 * 24 * time.Hour,
		},
		Fraud: Fraud{
			MaxTravelSpeedKmh: 900,
			AttributionSteps:  []string{"ihram", "talbiyah"},
		},
		Ledger: Ledger{
			RequiredSteps:                  map[string][]string{},
			RequireVerificationOfUnflagged: true,
		},
		Capacity: Capacity{
			ReservationTimeout: 30 * 24 * time.Hour,
		},
		Certificate: Certificate{
			NumberPrefix: "BDL",
			LookupFloor:  150 * time.Millisecond,
			CacheTTL:     10 * time.Minute,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a policy file layered over Default. An empty path yields the
// defaults. Unknown keys are rejected.
func Load(path string) (Policy, error) {
	if path == "" {
		p := Default()
		return p, p.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML policy bytes layered over Default.
func Parse(data []byte) (Policy, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks field constraints.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid policy %s: field %s failed %q", p.Version, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

func (p *Policy) normalize() {
	p.Fraud.AttributionSteps = stringutil.StepKeys(p.Fraud.AttributionSteps)
	required := make(map[string][]string, len(p.Ledger.RequiredSteps))
	for svc, steps := range p.Ledger.RequiredSteps {
		required[stringutil.StepKey(svc)] = stringutil.StepKeys(steps)
	}
	p.Ledger.RequiredSteps = required
}

// RequiredStepsFor returns the required steps for a service type.
func (l Ledger) RequiredStepsFor(serviceType string) []string {
	return l.RequiredSteps[stringutil.StepKey(serviceType)]
}

// IsAttributionStep reports whether step must name the beneficiary.
func (f Fraud) IsAttributionStep(step string) bool {
	key := stringutil.StepKey(step)
	for _, s := range f.AttributionSteps {
		if s == key {
			return true
		}
	}
	return false
}
