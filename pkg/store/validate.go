package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/damian-sirenko/signq/pkg/model"
)

var ErrInvalidEntry = errors.New("store: invalid entry")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		p, err := model.ParsePeriod(s)
		return err == nil && string(p) == s
	})
	return v
}

// Canonical trims the subject id, the only key field that may carry stray
// whitespace past parsing.
func Canonical(k model.Key) model.Key {
	k.SubjectID = strings.TrimSpace(k.SubjectID)
	return k
}

// Validate checks a key the way the store requires it: known type,
// non-empty subject, canonical YYYY-MM period, non-negative index.
func Validate(k model.Key) error {
	if err := validate.Struct(Canonical(k)); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidEntry, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
