package crm

import "strings"

const defaultCountryCode = "57"

// NormalizePhone strips everything except digits from a channel identifier.
// WhatsApp JIDs ("573001234567@s.whatsapp.net") and formatted numbers
// ("+57 300 123-4567") normalize to the same value.
func NormalizePhone(raw string) string {
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneVariants returns the lookup candidates for a raw phone, in the fixed
// fallback order the CRM lookup tries them: full digits, plus-prefixed,
// country-code stripped, and the bare national number with country code added.
func PhoneVariants(raw string) []string {
	digits := NormalizePhone(raw)
	if digits == "" {
		return nil
	}

	variants := []string{digits, "+" + digits}
	if strings.HasPrefix(digits, defaultCountryCode) && len(digits) > len(defaultCountryCode) {
		variants = append(variants, digits[len(defaultCountryCode):])
	} else {
		variants = append(variants, defaultCountryCode+digits)
	}

	seen := make(map[string]struct{}, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
