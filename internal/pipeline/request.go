package pipeline

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

const (
	DateLayout  = "2006-01-02"
	DefaultDays = 7
	maxDays     = 366
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Request is one invocation: which countries, which dates, and whether to write.
// FromDate overrides Days; ToDate defaults to today.
type Request struct {
	Countries []string `json:"countries" validate:"omitempty,dive,required,alpha,len=2|eq=all|eq=ALL"`
	Days      int      `json:"days" validate:"gte=0,lte=366"`
	FromDate  string   `json:"from_date" validate:"omitempty,datetime=2006-01-02"`
	ToDate    string   `json:"to_date" validate:"omitempty,datetime=2006-01-02"`
	DryRun    bool     `json:"dry_run"`
}

// Window is the inclusive date range requested from the portal.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Days() int {
	return int(w.To.Sub(w.From).Hours()/24) + 1
}

func (w Window) String() string {
	return w.From.Format(DateLayout) + ".." + w.To.Format(DateLayout)
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// Window resolves the date range against today.
func (r Request) Window(now time.Time) (Window, error) {
	if err := r.Validate(); err != nil {
		return Window{}, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	to := today
	if r.ToDate != "" {
		parsed, err := time.Parse(DateLayout, r.ToDate)
		if err != nil {
			return Window{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to_date")
		}
		to = parsed
	}

	var from time.Time
	if r.FromDate != "" {
		parsed, err := time.Parse(DateLayout, r.FromDate)
		if err != nil {
			return Window{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid from_date")
		}
		from = parsed
	} else {
		days := r.Days
		if days <= 0 {
			days = DefaultDays
		}
		from = today.AddDate(0, 0, -days)
	}

	if to.Before(from) {
		return Window{}, pkgerrors.Newf(pkgerrors.CodeValidation, "from_date %s is after to_date %s", from.Format(DateLayout), to.Format(DateLayout))
	}
	if w := (Window{From: from, To: to}); w.Days() > maxDays+1 {
		return Window{}, pkgerrors.Newf(pkgerrors.CodeValidation, "date range %s spans more than %d days", w, maxDays)
	}
	return Window{From: from, To: to}, nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "datetime":
		return "must be a YYYY-MM-DD date"
	case "len", "alpha":
		return "must be a two letter country code"
	}
	return "is invalid"
}
