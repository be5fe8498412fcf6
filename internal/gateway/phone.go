package gateway

import (
	"errors"
	"regexp"
	"strings"
)

// Kenyan mobile numbers: Safaricom 07xx/2547xx and the newer 011x/25411x
// ranges, with or without the country prefix.
var phonePattern = regexp.MustCompile(`^(?:0(7\d{8}|11\d{7})|254(7\d{8}|11\d{7})|\+254(7\d{8}|11\d{7}))$`)

var ErrInvalidPhone = errors.New("gateway: invalid phone number")

// NormalizePhone converts +2547.../07... forms into the 2547... format the
// provider expects.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	if strings.HasPrefix(p, "+") {
		p = p[1:]
	}
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	return p
}

// ValidatePhone checks the raw input before normalization.
func ValidatePhone(phone string) error {
	cleaned := strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	if !phonePattern.MatchString(cleaned) {
		return ErrInvalidPhone
	}
	return nil
}
