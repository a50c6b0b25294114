package visitor

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{0,15}$`)

var phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// Form is the visitor's submission before a ticket is issued.
type Form struct {
	Name     string `json:"name" validate:"required"`
	IDNumber string `json:"idNumber"`
	Phone    string `json:"phone" validate:"required,intlphone"`
	Purpose  string `json:"purpose" validate:"required"`
	Person   string `json:"person"`
	Building string `json:"building"`
	Duration string `json:"duration"`
}

// ValidationError reports a rejected form. Missing lists required fields that
// were blank; it is empty when only the phone number was malformed.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "Please fill in the required fields: " + strings.Join(e.Missing, ", ")
	}
	return "Please enter a valid phone number."
}

// Fields names the offending form fields.
func (e *ValidationError) Fields() []string {
	if len(e.Missing) > 0 {
		return e.Missing
	}
	return []string{"phone"}
}

// ValidPhone reports whether s is a plausible international number once
// spaces, dashes and parentheses are removed.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(phoneStripper.Replace(s))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("intlphone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	return v
}

// normalize trims every field and fills the ID placeholder.
func (f Form) normalize() Form {
	f.Name = strings.TrimSpace(f.Name)
	f.IDNumber = strings.TrimSpace(f.IDNumber)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Purpose = strings.TrimSpace(f.Purpose)
	f.Person = strings.TrimSpace(f.Person)
	f.Building = strings.TrimSpace(f.Building)
	f.Duration = strings.TrimSpace(f.Duration)
	if f.IDNumber == "" {
		f.IDNumber = IDNotProvided
	}
	return f
}

func validateForm(v *validator.Validate, f Form) error {
	err := v.Struct(f)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			ve.Missing = append(ve.Missing, fe.Field())
		}
	}
	return ve
}
