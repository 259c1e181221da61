package validation

import (
	"errors"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the wire format for calendar dates such as card expiry
const DateLayout = "2006-01-02"

var (
	validate     *validator.Validate
	validateOnce sync.Once

	cardCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`)

	cardStatuses = map[string]bool{
		"active":   true,
		"inactive": true,
		"blocked":  true,
		"expired":  true,
	}

	// now is swapped in tests
	now = time.Now
)

// Validator returns the shared validator with the ledger's custom tags registered
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("card_status", validateCardStatus)
		_ = validate.RegisterValidation("card_code", validateCardCode)
		_ = validate.RegisterValidation("money", validateMoney)
		_ = validate.RegisterValidation("future", validateFutureDate)
	})
	return validate
}

// ValidateStruct validates s and converts validator errors into a ValidationError
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return NewValidationError(validationErrors)
	}
	return err
}

func validateCardStatus(fl validator.FieldLevel) bool {
	return cardStatuses[fl.Field().String()]
}

func validateCardCode(fl validator.FieldLevel) bool {
	return cardCodePattern.MatchString(strings.ToUpper(fl.Field().String()))
}

// maxMoney matches the NUMERIC(12,2) balance columns
const maxMoney = 9_999_999_999.99

// money accepts positive amounts up to maxMoney with at most two decimal places
func validateMoney(fl validator.FieldLevel) bool {
	var v float64
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		v = fl.Field().Float()
	case reflect.Int, reflect.Int32, reflect.Int64:
		v = float64(fl.Field().Int())
	default:
		return false
	}
	if v <= 0 || v > maxMoney || math.IsNaN(v) {
		return false
	}
	_, frac, _ := strings.Cut(strconv.FormatFloat(v, 'f', -1, 64), ".")
	return len(frac) <= 2
}

// future accepts a date strictly after today, either as time.Time or a DateLayout string
func validateFutureDate(fl validator.FieldLevel) bool {
	var date time.Time
	switch v := fl.Field().Interface().(type) {
	case time.Time:
		date = v
	case string:
		parsed, err := time.Parse(DateLayout, v)
		if err != nil {
			return false
		}
		date = parsed
	default:
		return false
	}

	today := now().UTC().Truncate(24 * time.Hour)
	return date.UTC().Truncate(24 * time.Hour).After(today)
}
