package ldap

import (
	"fmt"

	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// GUIDFromBytes decodes an Active Directory objectGUID.
//
// AD stores GUIDs mixed-endian: Data1, Data2 and Data3 are little-endian
// while Data4 keeps its byte order.
func GUIDFromBytes(guidBytes []byte) (uuid.UUID, error) {
	if len(guidBytes) != GUIDBytesLength {
		return uuid.Nil, fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	var u uuid.UUID
	u[0], u[1], u[2], u[3] = guidBytes[3], guidBytes[2], guidBytes[1], guidBytes[0]
	u[4], u[5] = guidBytes[5], guidBytes[4]
	u[6], u[7] = guidBytes[7], guidBytes[6]
	copy(u[8:], guidBytes[8:])

	return u, nil
}

// GUIDToBytes encodes a UUID in Active Directory byte order.
func GUIDToBytes(u uuid.UUID) []byte {
	b := make([]byte, GUIDBytesLength)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

// GUIDFilter returns a filter matching objectGUID against guid, which may be
// in any form accepted by uuid.Parse.
func GUIDFilter(guid string) (string, error) {
	u, err := uuid.Parse(guid)
	if err != nil {
		return "", fmt.Errorf("invalid GUID %q: %w", guid, err)
	}
	return "(objectGUID=" + EscapeBinaryFilterValue(GUIDToBytes(u)) + ")", nil
}
