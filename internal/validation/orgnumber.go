// orgnumber.go validates Swedish organisation numbers, which identify
// customers when searching the accounting provider's registry.
package validation

import (
	"fmt"
	"strings"
)

// NormalizeOrgNumber strips separators and validates a Swedish organisation
// number (ten digits, Luhn check digit). Returns the bare ten-digit form used
// in provider lookups, e.g. "5565556565" for "556555-6565".
func NormalizeOrgNumber(orgNumber string) (string, error) {
	cleaned := strings.NewReplacer("-", "", " ", "").Replace(orgNumber)
	if len(cleaned) != 10 {
		return "", fmt.Errorf("organisation number must be 10 digits, got %d", len(cleaned))
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("organisation number contains non-digit %q", r)
		}
	}
	if !luhnValid(cleaned) {
		return "", fmt.Errorf("organisation number %s has an invalid check digit", orgNumber)
	}
	return cleaned, nil
}

// luhnValid runs the Luhn mod-10 check used by Swedish organisation and
// personal identity numbers.
func luhnValid(digits string) bool {
	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}
