package drivers

import "strings"

const wireFamilyPrefixLen = 3

// SplitRawId splits a slave id as listed by the bus master ("28-0316a27941ff")
// into its family code and the 12 digit serial part. Ids without a family
// prefix are returned whole as suffix.
func SplitRawId(rawId string) (family, suffix string) {
	if len(rawId) >= wireFamilyPrefixLen && strings.ContainsRune("-:.", rune(rawId[2])) {
		return rawId[:2], rawId[wireFamilyPrefixLen:]
	}

	return "", rawId
}

// ReverseBytePairs reverses the order of two character groups of a hex string,
// "0102030405ab" becomes "ab0504030201". A dangling odd character stays last.
func ReverseBytePairs(hex string) string {
	var b strings.Builder
	b.Grow(len(hex))

	end := len(hex) - len(hex)%2
	for i := end - 2; i >= 0; i -= 2 {
		b.WriteString(hex[i : i+2])
	}
	b.WriteString(hex[end:])

	return b.String()
}

// NormalizeId returns the user facing id of a slave: serial bytes in reversed
// order, upper case, without the family code.
func NormalizeId(rawId string) string {
	_, suffix := SplitRawId(rawId)
	return strings.ToUpper(ReverseBytePairs(suffix))
}
