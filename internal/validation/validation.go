package validation

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"market-core/internal/fault"
)

// MaxImageBytes is the largest accepted product image: 5 MiB.
const MaxImageBytes = 5 << 20

// MinPasswordLength for registration.
const MinPasswordLength = 6

var (
	validate   = validator.New()
	digitsOnly = regexp.MustCompile(`^[0-9]+$`)
)

func init() {
	// Mobile numbers: exactly ten digits after stripping separators, and the
	// network prefix must be 08 or 09.
	_ = validate.RegisterValidation("mobilephone", func(fl validator.FieldLevel) bool {
		return phoneOK(fl.Field().String())
	})
}

// Struct validates a request struct against its validation tags.
func Struct(v any) error {
	return validate.Struct(v)
}

func phoneOK(raw string) bool {
	phone := NormalizePhone(raw)
	if len(phone) != 10 || !digitsOnly.MatchString(phone) {
		return false
	}
	return strings.HasPrefix(phone, "08") || strings.HasPrefix(phone, "09")
}

// NormalizePhone strips spaces and dashes.
func NormalizePhone(raw string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(raw)
}

// Phone validates a mobile number and returns its normalized form.
func Phone(raw string) (string, error) {
	if !phoneOK(raw) {
		return "", fault.Invalid("phone", "must be ten digits starting with 08 or 09")
	}
	return NormalizePhone(raw), nil
}

// Email validates the usual local@domain.tld shape and lowercases the result.
func Email(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", fault.Invalid("email", "must be a valid email address")
	}
	return email, nil
}

// Password enforces the minimum length.
func Password(raw string) error {
	if len(raw) < MinPasswordLength {
		return fault.Invalid("password", "must be at least 6 characters")
	}
	return nil
}

// Price parses a non-negative decimal amount.
func Price(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fault.Invalid("price", "must be a decimal number")
	}
	if price.IsNegative() {
		return decimal.Zero, fault.Invalid("price", "must not be negative")
	}
	return price, nil
}

// Quantity parses a non-negative integer.
func Quantity(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !digitsOnly.MatchString(trimmed) {
		return 0, fault.Invalid("quantity", "must be a non-negative integer")
	}
	qty, err := decimal.NewFromString(trimmed)
	if err != nil || !qty.IsInteger() {
		return 0, fault.Invalid("quantity", "must be a non-negative integer")
	}
	return int(qty.IntPart()), nil
}

// Image accepts either a data URL (local variant) or an http(s) URL (remote
// variant) with an image/* media type and a size within the 5 MiB cap.
func Image(url string, size int64) error {
	if url == "" {
		return nil
	}
	if size > MaxImageBytes {
		return fault.Invalid("image", "image exceeds the 5 MiB limit")
	}
	switch {
	case strings.HasPrefix(url, "data:"):
		if !strings.HasPrefix(url, "data:image/") {
			return fault.Invalid("image", "only image/* media types are accepted")
		}
		if int64(len(url)) > MaxImageBytes {
			return fault.Invalid("image", "image exceeds the 5 MiB limit")
		}
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
	default:
		return fault.Invalid("image", "must be a data URL or an http(s) URL")
	}
	return nil
}

// BuyerName rejects blank checkout names.
func BuyerName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fault.Invalid("name", "must not be empty")
	}
	return name, nil
}

// Address rejects blank checkout addresses.
func Address(raw string) (string, error) {
	address := strings.TrimSpace(raw)
	if address == "" {
		return "", fault.Invalid("address", "must not be empty")
	}
	return address, nil
}
