package patient

import (
	"time"

	"github.com/recoverguard/platform/internal/shared/types"
)

// RiskTier buckets patients by readmission risk
type RiskTier int

const (
	RiskTierLow    RiskTier = 1
	RiskTierMedium RiskTier = 2
	RiskTierHigh   RiskTier = 3
)

// SocialSupport levels for the SDoH record
type SocialSupport string

const (
	SocialSupportHigh   SocialSupport = "high"
	SocialSupportMedium SocialSupport = "medium"
	SocialSupportLow    SocialSupport = "low"
)

// HousingStability for the SDoH record
type HousingStability string

const (
	HousingStable   HousingStability = "stable"
	HousingUnstable HousingStability = "unstable"
	HousingUnknown  HousingStability = "unknown"
)

// Baseline holds the patient-specific expected recovery statistics, established
// at or soon after discharge. Read-only to the detection core; the EHR import
// job is the only writer.
type Baseline struct {
	PainMean float64 `json:"pain_mean"`
	PainStd  float64 `json:"pain_std"`
	// StepsExpected is indexed by day since discharge
	StepsExpected []int   `json:"steps_expected"`
	TempMean      float64 `json:"temp_mean"`
	TempStd       float64 `json:"temp_std"`
}

// ExpectedSteps returns the expected step count for a day since discharge.
// Days beyond the curve hold at the last value.
func (b Baseline) ExpectedSteps(day int) int {
	if len(b.StepsExpected) == 0 {
		return 0
	}
	if day < 0 {
		day = 0
	}
	if day >= len(b.StepsExpected) {
		day = len(b.StepsExpected) - 1
	}
	return b.StepsExpected[day]
}

// Consent holds the opt-in flags for supplemental signal channels.
// Mutated only through Service.SetConsent, which audits every change.
type Consent struct {
	Voice          bool       `json:"voice"`
	Photo          bool       `json:"photo"`
	VoiceGrantedAt *time.Time `json:"voice_timestamp,omitempty"`
	PhotoGrantedAt *time.Time `json:"photo_timestamp,omitempty"`
}

// ConsentType names a consent channel
type ConsentType string

const (
	ConsentVoice ConsentType = "voice"
	ConsentPhoto ConsentType = "photo"
)

// Caregiver contact details
type Caregiver struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// SDoH captures social determinants of health. Contextual only; the
// detection math never reads these.
type SDoH struct {
	HousingStability     HousingStability `json:"housing_stability"`
	TransportationAccess bool             `json:"transportation_access"`
	FoodSecurity         bool             `json:"food_security"`
	SocialSupport        SocialSupport    `json:"social_support"`
}

// Medication in the discharge plan
type Medication struct {
	Name      string     `json:"name"`
	Dosage    string     `json:"dosage"`
	Frequency string     `json:"frequency"`
	LastTaken *time.Time `json:"last_taken,omitempty"`
}

// Engagement tracks how actively the patient uses the app over the last
// reporting window; feeds the confidence completeness term.
type Engagement struct {
	AppOpensLast7d        int     `json:"app_opens_last_7d"`
	DataSubmissionsLast7d int     `json:"data_submissions_last_7d"`
	ResponseRate          float64 `json:"response_rate"`
}

// Patient is the aggregate the monitoring platform tracks after discharge
type Patient struct {
	ID            types.ID     `json:"patient_id"`
	Name          string       `json:"name"`
	Age           int          `json:"age"`
	Gender        string       `json:"gender"`
	Phone         string       `json:"phone"`
	SurgeryType   string       `json:"surgery_type"`
	DischargeDate time.Time    `json:"discharge_date"`
	Comorbidities []string     `json:"comorbidities"`
	Caregiver     *Caregiver   `json:"caregiver,omitempty"`
	SDoH          SDoH         `json:"sdoh"`
	Medications   []Medication `json:"medications"`
	Baseline      Baseline     `json:"baselines"`
	Engagement    Engagement   `json:"engagement_metrics"`
	RiskTier      RiskTier     `json:"risk_tier"`
	Consent       Consent      `json:"consent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DaysPostDischarge derives the day index since discharge at a point in time
func (p *Patient) DaysPostDischarge(now time.Time) int {
	if now.Before(p.DischargeDate) {
		return 0
	}
	return int(now.Sub(p.DischargeDate).Hours() / 24)
}

// HasConsent reports whether a consent channel is granted
func (p *Patient) HasConsent(t ConsentType) bool {
	switch t {
	case ConsentVoice:
		return p.Consent.Voice
	case ConsentPhoto:
		return p.Consent.Photo
	default:
		return false
	}
}

// SetConsent flips a consent flag, stamping the grant time
func (p *Patient) SetConsent(t ConsentType, granted bool, now time.Time) {
	switch t {
	case ConsentVoice:
		p.Consent.Voice = granted
		if granted {
			p.Consent.VoiceGrantedAt = &now
		}
	case ConsentPhoto:
		p.Consent.Photo = granted
		if granted {
			p.Consent.PhotoGrantedAt = &now
		}
	}
	p.UpdatedAt = now
}

// ListPatientsFilter defines filters for listing patients
type ListPatientsFilter struct {
	SurgeryType string
	RiskTier    *RiskTier
	Search      string
}
