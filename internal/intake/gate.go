package intake

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Section groups the fields the form reports on together.
type Section string

const (
	SectionBasicInfo        Section = "basic_info"
	SectionAddress          Section = "address"
	SectionEmergencyContact Section = "emergency_contact"
	SectionInsurance        Section = "insurance"
)

// GateValidationError is the single consolidated message the form shows.
type GateValidationError struct {
	Section Section
	Message string
	Fields  []Field
}

func (e *GateValidationError) Error() string {
	return e.Message
}

type sectionRule struct {
	section    Section
	structPath []string
	message    string
	onlineOnly bool
}

// Checked in this order; the first failing section wins.
var sectionRules = []sectionRule{
	{
		section:    SectionBasicInfo,
		structPath: []string{"Name", "Phone", "Gender", "DOB"},
		message:    "Please fill in all basic information: name, phone, gender and date of birth",
	},
	{
		section:    SectionAddress,
		structPath: []string{"Address.Line1", "Address.City", "Address.State", "Address.Zip"},
		message:    "Please complete your address: line 1, city, state and zip code",
	},
	{
		section:    SectionEmergencyContact,
		structPath: []string{"EmergencyContact.Name", "EmergencyContact.Phone"},
		message:    "Please provide an emergency contact name and phone number",
	},
	{
		section:    SectionInsurance,
		structPath: []string{"InsuranceProvider", "InsuranceID"},
		message:    "Insurance provider and policy ID are required for online payment",
		onlineOnly: true,
	},
}

var structFieldToField = map[string]Field{
	"Name":                   FieldName,
	"Phone":                  FieldPhone,
	"Gender":                 FieldGender,
	"DOB":                    FieldDOB,
	"Address.Line1":          FieldAddressLine1,
	"Address.City":           FieldAddressCity,
	"Address.State":          FieldAddressState,
	"Address.Zip":            FieldAddressZip,
	"EmergencyContact.Name":  FieldEmergencyName,
	"EmergencyContact.Phone": FieldEmergencyPhone,
	"InsuranceProvider":      FieldInsuranceProvider,
	"InsuranceID":            FieldInsuranceID,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("filled", func(fl validator.FieldLevel) bool {
		return Filled(fl.Field().String())
	}); err != nil {
		panic("intake: register filled validation: " + err.Error())
	}
	return v
}

// RequiresInsurance reports whether insurance fields are mandatory for p.
func RequiresInsurance(p SettlementPath) bool {
	return p == PathOnline
}

// ValidateForm returns the first failing section for in under path, or nil.
// It is pure: the same inputs always give the same verdict.
func ValidateForm(in Intake, path SettlementPath) error {
	for _, rule := range sectionRules {
		if rule.onlineOnly && !RequiresInsurance(path) {
			continue
		}
		err := validate.StructPartial(in, rule.structPath...)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &GateValidationError{Section: rule.section, Message: rule.message}
		}
		return &GateValidationError{
			Section: rule.section,
			Message: rule.message,
			Fields:  failingFields(verrs),
		}
	}
	return nil
}

// IsComplete reports whether profile satisfies every field required under
// path. A nil profile is never complete.
func IsComplete(profile *Intake, path SettlementPath) bool {
	if profile == nil {
		return false
	}
	return ValidateForm(*profile, path) == nil
}

func failingFields(verrs validator.ValidationErrors) []Field {
	fields := make([]Field, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.StructNamespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		if f, ok := structFieldToField[ns]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}
