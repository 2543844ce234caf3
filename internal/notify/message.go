package notify

import (
	"errors"
	"strconv"
	"strings"

	"qms/qalert/internal/models"
)

const DefaultCountryCode = "62"

var errInvalidPhone = errors.New("invalid phone number")

// NormalizePhone converts a locally written number into international
// form without the plus sign. A leading trunk 0 becomes the country code.
func NormalizePhone(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		case r == '+' && b.Len() == 0:
		default:
			return "", errInvalidPhone
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		digits = countryCode + strings.TrimPrefix(digits, "0")
	}
	if len(digits) < 8 {
		return "", errInvalidPhone
	}
	return digits, nil
}

func defaultCalledTemplate(lang string) string {
	if lang == "en" {
		return "Queue number {sequence_number} is being called. Please proceed to the examination room."
	}
	return "Nomor antrian {sequence_number} dipanggil. Silakan menuju ruang periksa."
}

func renderTemplate(template string, job Job, subject models.Subject) string {
	result := template
	result = strings.ReplaceAll(result, "{sequence_number}", strconv.Itoa(job.SequenceNumber))
	result = strings.ReplaceAll(result, "{display_name}", subject.DisplayName)
	result = strings.ReplaceAll(result, "{service_date}", job.ServiceDate.String())
	return result
}
