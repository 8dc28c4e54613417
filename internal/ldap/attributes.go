package ldap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// userAccountControl flags.
// https://learn.microsoft.com/en-us/windows/win32/adschema/a-useraccountcontrol
const (
	UACAccountDisabled      int64 = 0x00000002
	UACLockout              int64 = 0x00000010
	UACPasswordCantChange   int64 = 0x00000040
	UACNormalAccount        int64 = 0x00000200
	UACPasswordNeverExpires int64 = 0x00010000
	UACPasswordExpired      int64 = 0x00800000
)

// fileTimeEpochOffset is the number of 100ns intervals between 1601-01-01 and 1970-01-01.
const fileTimeEpochOffset int64 = 116444736000000000

// GeneralizedTimeLayout is the layout AD uses for whenCreated/whenChanged.
const GeneralizedTimeLayout = "20060102150405.0Z"

// maxFileTime is 9999-12-31T23:59:59Z expressed as a FILETIME.
var maxFileTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()*10_000_000 + fileTimeEpochOffset + 9_999_999

// ParseFileTime converts a Windows FILETIME (100ns ticks since 1601-01-01 UTC).
// ok is false for zero, negative, "never" (MaxInt64) and past-year-9999 values.
func ParseFileTime(ticks int64) (t time.Time, ok bool) {
	if ticks <= 0 || ticks == math.MaxInt64 || ticks > maxFileTime {
		return time.Time{}, false
	}

	// Split to avoid overflowing int64 nanoseconds for dates outside 1678-2262.
	rel := ticks - fileTimeEpochOffset
	secs := rel / 10_000_000
	rem := rel % 10_000_000
	if rem < 0 {
		secs--
		rem += 10_000_000
	}

	return time.Unix(secs, rem*100).UTC(), true
}

// ParseTimestamp parses an AD time attribute value which is either a
// GeneralizedTime string or a decimal FILETIME.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if strings.HasSuffix(value, "Z") {
		for _, layout := range []string{GeneralizedTimeLayout, "20060102150405Z"} {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}

	ticks, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return ParseFileTime(ticks)
}

// ParseUserAccountControl parses a userAccountControl value.
// AD returns it as a signed 32-bit decimal.
func ParseUserAccountControl(value string) (int64, error) {
	uac, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid userAccountControl %q: %w", value, err)
	}
	return uac & 0xFFFFFFFF, nil
}
