package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// minSIDLength covers revision, sub-authority count and the 6-byte identifier authority.
const minSIDLength = 8

// SIDToString converts a binary objectSid to its S-1-5-21-... form.
func SIDToString(binarySID []byte) (string, error) {
	if len(binarySID) < minSIDLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}

	subAuthorities := int(binarySID[1])
	if want := minSIDLength + 4*subAuthorities; len(binarySID) < want {
		return "", fmt.Errorf("binary SID truncated: expected %d bytes, got %d", want, len(binarySID))
	}

	return objectsid.Decode(binarySID).String(), nil
}

// EscapeBinaryFilterValue escapes every byte of value as \xx for use in an
// LDAP filter assertion, which is how binary attributes such as objectSid
// and objectGUID are matched.
func EscapeBinaryFilterValue(value []byte) string {
	var b strings.Builder
	b.Grow(len(value) * 3)
	for _, c := range value {
		fmt.Fprintf(&b, `\%02x`, c)
	}
	return b.String()
}

// SIDFilter builds an OR filter matching any of the given binary SIDs.
// It returns an empty string when sids is empty.
func SIDFilter(sids [][]byte) string {
	switch len(sids) {
	case 0:
		return ""
	case 1:
		return "(objectSid=" + EscapeBinaryFilterValue(sids[0]) + ")"
	}

	var b strings.Builder
	b.WriteString("(|")
	for _, sid := range sids {
		b.WriteString("(objectSid=")
		b.WriteString(EscapeBinaryFilterValue(sid))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}
