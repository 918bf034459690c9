package intake

import (
	"errors"
	"sync"
)

// ErrFormClosed is returned when editing a cancelled or submitted form.
var ErrFormClosed = errors.New("intake: form is closed")

// Form owns the intake draft while the gate reports the profile incomplete.
// Every edit replaces the draft wholesale; readers only ever see complete
// values.
type Form struct {
	mu     sync.Mutex
	path   SettlementPath
	draft  Intake
	issue  error
	closed bool
}

// NewForm opens a form pre-filled from profile. Values in typed (what the
// patient entered earlier in this attempt) survive wherever the profile is
// blank.
func NewForm(profile *Intake, path SettlementPath, typed Intake) *Form {
	f := &Form{path: path, draft: Prefill(profile, typed)}
	f.issue = ValidateForm(f.draft, path)
	return f
}

// Draft returns the current draft value.
func (f *Form) Draft() Intake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

// Path returns the settlement path the form validates against.
func (f *Form) Path() SettlementPath {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Set updates one field and re-validates the whole draft.
func (f *Form) Set(field Field, value string) (Intake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.draft, ErrFormClosed
	}
	next, err := f.draft.With(field, value)
	if err != nil {
		return f.draft, err
	}
	f.replace(next)
	return next, nil
}

// SetAddress replaces the nested address object.
func (f *Form) SetAddress(a Address) (Intake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.draft, ErrFormClosed
	}
	next := f.draft.WithAddress(a)
	f.replace(next)
	return next, nil
}

// SetEmergencyContact replaces the nested emergency contact object.
func (f *Form) SetEmergencyContact(ec EmergencyContact) (Intake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.draft, ErrFormClosed
	}
	next := f.draft.WithEmergencyContact(ec)
	f.replace(next)
	return next, nil
}

// SetPath switches the settlement path. Insurance requirements follow it.
func (f *Form) SetPath(path SettlementPath) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
	f.issue = ValidateForm(f.draft, path)
}

// Validate returns the first failing section as *GateValidationError, or nil.
func (f *Form) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ValidateForm(f.draft, f.path)
}

// Issue returns the validation result recorded after the latest edit.
func (f *Form) Issue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue
}

// Cancel discards the draft. The form cannot be edited afterwards.
func (f *Form) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.draft = Intake{}
	f.issue = nil
}

// Close freezes the form after a successful submission and returns the final draft.
func (f *Form) Close() Intake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.draft
}

// Closed reports whether the form was cancelled or submitted.
func (f *Form) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Form) replace(next Intake) {
	f.draft = next
	f.issue = ValidateForm(next, f.path)
}
