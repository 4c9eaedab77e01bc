// vat.go holds the VAT rates the accounting provider accepts on invoice rows.
package validation

// DefaultVATRate is the standard Swedish VAT rate, used whenever a stored
// rate falls outside the provider's accepted set.
const DefaultVATRate = 25

// allowedVATRates are the reduced and standard Swedish VAT rates the provider
// accepts. Anything else on an invoice row is rejected remotely.
var allowedVATRates = map[int]bool{25: true, 12: true, 6: true}

// IsAllowedVATRate reports whether the provider accepts the given rate.
func IsAllowedVATRate(rate int) bool {
	return allowedVATRates[rate]
}

// NormalizeVATRate returns the rate unchanged when the provider accepts it,
// and DefaultVATRate otherwise. Rows are coerced rather than rejected so a
// single mistyped product rate cannot block a whole export.
func NormalizeVATRate(rate int) int {
	if allowedVATRates[rate] {
		return rate
	}
	return DefaultVATRate
}
