// Package intake holds the patient intake record, the completeness gate that
// decides whether a booking needs it, and the form controller that edits it.
package intake

import (
	"fmt"
	"strings"
)

// SettlementPath is how the appointment is paid for.
type SettlementPath string

const (
	PathCash   SettlementPath = "cash"
	PathOnline SettlementPath = "online"
)

// ParseSettlementPath accepts "cash" or "online" in any case.
func ParseSettlementPath(value string) (SettlementPath, error) {
	switch p := SettlementPath(strings.ToLower(strings.TrimSpace(value))); p {
	case PathCash, PathOnline:
		return p, nil
	default:
		return "", fmt.Errorf("intake: unknown settlement path %q", value)
	}
}

// AcceptedPaths is the subset of settlement paths a provider supports.
type AcceptedPaths struct {
	Cash   bool `json:"cash"`
	Online bool `json:"online"`
}

// Allows reports whether p may be offered.
func (a AcceptedPaths) Allows(p SettlementPath) bool {
	switch p {
	case PathCash:
		return a.Cash
	case PathOnline:
		return a.Online
	default:
		return false
	}
}

// Only returns the single accepted path when exactly one is supported.
func (a AcceptedPaths) Only() (SettlementPath, bool) {
	switch {
	case a.Cash && !a.Online:
		return PathCash, true
	case a.Online && !a.Cash:
		return PathOnline, true
	default:
		return "", false
	}
}

// Address is the patient's postal address.
type Address struct {
	Line1   string `json:"line1" validate:"filled"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city" validate:"filled"`
	State   string `json:"state" validate:"filled"`
	Zip     string `json:"zip" validate:"filled"`
	Country string `json:"country,omitempty"`
}

// EmergencyContact is who to call on the patient's behalf.
type EmergencyContact struct {
	Name  string `json:"name" validate:"filled"`
	Phone string `json:"phone" validate:"filled"`
}

// Intake is the extended patient record. It only holds value fields, so a
// copy never shares state with the original.
type Intake struct {
	Name             string           `json:"name" validate:"filled"`
	Phone            string           `json:"phone" validate:"filled"`
	Gender           string           `json:"gender" validate:"filled"`
	DOB              string           `json:"dob" validate:"filled"`
	Address          Address          `json:"address"`
	EmergencyContact EmergencyContact `json:"emergencyContact"`

	BloodGroup         string `json:"bloodGroup,omitempty"`
	Allergies          string `json:"allergies,omitempty"`
	CurrentMedications string `json:"currentMedications,omitempty"`

	InsuranceProvider string `json:"insuranceProvider,omitempty" validate:"filled"`
	InsuranceID       string `json:"insuranceId,omitempty" validate:"filled"`
}

// placeholder is what the profile store returns for never-set selects.
const placeholder = "Not Selected"

// Filled reports whether a field value counts as present.
func Filled(value string) bool {
	v := strings.TrimSpace(value)
	return v != "" && !strings.EqualFold(v, placeholder)
}

// Field names a single editable intake value, using the wire path.
type Field string

const (
	FieldName               Field = "name"
	FieldPhone              Field = "phone"
	FieldGender             Field = "gender"
	FieldDOB                Field = "dob"
	FieldAddressLine1       Field = "address.line1"
	FieldAddressLine2       Field = "address.line2"
	FieldAddressCity        Field = "address.city"
	FieldAddressState       Field = "address.state"
	FieldAddressZip         Field = "address.zip"
	FieldAddressCountry     Field = "address.country"
	FieldEmergencyName      Field = "emergencyContact.name"
	FieldEmergencyPhone     Field = "emergencyContact.phone"
	FieldBloodGroup         Field = "bloodGroup"
	FieldAllergies          Field = "allergies"
	FieldCurrentMedications Field = "currentMedications"
	FieldInsuranceProvider  Field = "insuranceProvider"
	FieldInsuranceID        Field = "insuranceId"
)

// Fields lists every editable field in form order.
var Fields = []Field{
	FieldName, FieldPhone, FieldGender, FieldDOB,
	FieldAddressLine1, FieldAddressLine2, FieldAddressCity, FieldAddressState, FieldAddressZip, FieldAddressCountry,
	FieldEmergencyName, FieldEmergencyPhone,
	FieldBloodGroup, FieldAllergies, FieldCurrentMedications,
	FieldInsuranceProvider, FieldInsuranceID,
}

// ParseField resolves a wire path such as "address.city".
func ParseField(path string) (Field, error) {
	p := strings.TrimSpace(path)
	for _, f := range Fields {
		if strings.EqualFold(string(f), p) {
			return f, nil
		}
	}
	return "", fmt.Errorf("intake: unknown field %q", path)
}

// Get returns the value stored at f.
func (in Intake) Get(f Field) string {
	switch f {
	case FieldName:
		return in.Name
	case FieldPhone:
		return in.Phone
	case FieldGender:
		return in.Gender
	case FieldDOB:
		return in.DOB
	case FieldAddressLine1:
		return in.Address.Line1
	case FieldAddressLine2:
		return in.Address.Line2
	case FieldAddressCity:
		return in.Address.City
	case FieldAddressState:
		return in.Address.State
	case FieldAddressZip:
		return in.Address.Zip
	case FieldAddressCountry:
		return in.Address.Country
	case FieldEmergencyName:
		return in.EmergencyContact.Name
	case FieldEmergencyPhone:
		return in.EmergencyContact.Phone
	case FieldBloodGroup:
		return in.BloodGroup
	case FieldAllergies:
		return in.Allergies
	case FieldCurrentMedications:
		return in.CurrentMedications
	case FieldInsuranceProvider:
		return in.InsuranceProvider
	case FieldInsuranceID:
		return in.InsuranceID
	}
	return ""
}

// With returns a copy of in with f set to value. The receiver is untouched.
func (in Intake) With(f Field, value string) (Intake, error) {
	out := in
	switch f {
	case FieldName:
		out.Name = value
	case FieldPhone:
		out.Phone = value
	case FieldGender:
		out.Gender = value
	case FieldDOB:
		out.DOB = value
	case FieldAddressLine1:
		out.Address.Line1 = value
	case FieldAddressLine2:
		out.Address.Line2 = value
	case FieldAddressCity:
		out.Address.City = value
	case FieldAddressState:
		out.Address.State = value
	case FieldAddressZip:
		out.Address.Zip = value
	case FieldAddressCountry:
		out.Address.Country = value
	case FieldEmergencyName:
		out.EmergencyContact.Name = value
	case FieldEmergencyPhone:
		out.EmergencyContact.Phone = value
	case FieldBloodGroup:
		out.BloodGroup = value
	case FieldAllergies:
		out.Allergies = value
	case FieldCurrentMedications:
		out.CurrentMedications = value
	case FieldInsuranceProvider:
		out.InsuranceProvider = value
	case FieldInsuranceID:
		out.InsuranceID = value
	default:
		return in, fmt.Errorf("intake: unknown field %q", f)
	}
	return out, nil
}

// WithAddress returns a copy of in with the whole address replaced.
func (in Intake) WithAddress(a Address) Intake {
	out := in
	out.Address = a
	return out
}

// WithEmergencyContact returns a copy of in with the emergency contact replaced.
func (in Intake) WithEmergencyContact(ec EmergencyContact) Intake {
	out := in
	out.EmergencyContact = ec
	return out
}

// Prefill merges a stored profile into a draft: every field the profile
// already has wins, blank profile fields keep what the patient typed.
func Prefill(profile *Intake, typed Intake) Intake {
	if profile == nil {
		return typed
	}
	out := typed
	for _, f := range Fields {
		if v := profile.Get(f); Filled(v) {
			out, _ = out.With(f, v)
		}
	}
	return out
}
