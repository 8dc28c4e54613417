package directory

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
	"github.com/isometry/ad-userinfo/internal/logging"
)

// matchingRuleInChain is LDAP_MATCHING_RULE_IN_CHAIN, which walks nested membership.
const matchingRuleInChain = "1.2.840.113556.1.4.1941"

// sidFilterBatch bounds the number of SIDs OR-ed into one filter.
const sidFilterBatch = 200

var groupAttributes = []string{"distinguishedName", "sAMAccountName", "cn", "name", "objectSid"}

// findGroup resolves a group by DN, objectGUID or objectSid, then by
// sAMAccountName and finally cn.
func (s *Service) findGroup(ctx context.Context, group string) (*ldap.Entry, error) {
	group = strings.TrimSpace(group)

	switch ldapclient.DetectIdentifierType(group) {
	case ldapclient.IdentifierTypeUnknown:
		return nil, nil
	case ldapclient.IdentifierTypeDN:
		return s.readEntry(ctx, group, "(objectClass=group)", groupAttributes)
	case ldapclient.IdentifierTypeGUID, ldapclient.IdentifierTypeSID:
		return s.findEntry(ctx, "(&(objectClass=group)"+ldapclient.IdentifierFilter(group)+")", groupAttributes)
	}

	escaped := ldap.EscapeFilter(accountName(group))
	for _, attr := range []string{"sAMAccountName", "cn"} {
		entry, err := s.findEntry(ctx, "(&(objectClass=group)("+attr+"="+escaped+"))", groupAttributes)
		if err != nil || entry != nil {
			return entry, err
		}
	}
	return nil, nil
}

// tokenGroups reads the constructed tokenGroups attribute, the SIDs of every
// security group the user belongs to including nested and primary groups.
func (s *Service) tokenGroups(ctx context.Context, username string) ([][]byte, bool, error) {
	name := accountName(username)
	if name == "" {
		return nil, false, nil
	}

	user, err := s.findEntry(ctx, userFilter("(sAMAccountName="+ldap.EscapeFilter(name)+")"), []string{"distinguishedName"})
	if err != nil || user == nil {
		return nil, false, err
	}

	// tokenGroups is only returned for base-scope reads.
	entry, err := s.readEntry(ctx, user.DN, "(objectClass=*)", []string{"tokenGroups"})
	if err != nil {
		return nil, true, err
	}
	if entry == nil {
		return nil, true, nil
	}

	attr := attribute(entry, "tokenGroups")
	if attr == nil {
		return nil, true, nil
	}
	return attr.ByteValues, true, nil
}

// UsersInGroup returns the users that are direct or nested members of group.
func (s *Service) UsersInGroup(ctx context.Context, group string) ([]*UserRecord, error) {
	ctx = s.context(ctx)

	entry, err := s.findGroup(ctx, group)
	if err != nil {
		return nil, opError("retrieving members of group", group, err)
	}
	if entry == nil {
		return nil, nil
	}

	filter := userFilter("(memberOf:" + matchingRuleInChain + ":=" + ldap.EscapeFilter(entry.DN) + ")")
	entries, err := s.findEntries(ctx, filter, userAttributes, 0)
	if err != nil {
		return nil, opError("retrieving members of group", group, err)
	}
	return s.records(ctx, entries), nil
}

// UserGroups returns the names of every security group username belongs to,
// including nested groups, sorted.
func (s *Service) UserGroups(ctx context.Context, username string) ([]string, error) {
	ctx = s.context(ctx)

	sids, found, err := s.tokenGroups(ctx, username)
	if err != nil {
		return nil, opError("retrieving groups of user", username, err)
	}
	if !found || len(sids) == 0 {
		return nil, nil
	}

	var names []string
	for batch := range slices.Chunk(sids, sidFilterBatch) {
		entries, err := s.findEntries(ctx, "(&(objectClass=group)"+ldapclient.SIDFilter(batch)+")", groupAttributes, 0)
		if err != nil {
			return nil, opError("retrieving groups of user", username, err)
		}
		for _, entry := range entries {
			names = append(names, groupName(entry))
		}
	}

	logging.SubsystemDebug(ctx, logging.SubsystemDirectory, "Resolved token groups", map[string]any{
		"username": username,
		"sids":     len(sids),
		"groups":   len(names),
	})

	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return slices.Compact(names), nil
}

// groupName prefers name, then cn, then sAMAccountName.
func groupName(entry *ldap.Entry) string {
	for _, attr := range []string{"name", "cn", "sAMAccountName"} {
		if v, ok := firstValue(entry, attr); ok && v != "" {
			return v
		}
	}
	name, _ := ldapclient.FirstRDNValue(entry.DN)
	return name
}

// IsUserInGroup reports whether username is a direct or nested member of
// group. Unknown users or groups and any error yield false.
//
// tokenGroups answers for security groups, including the primary group.
// Distribution groups never appear there, so a miss is confirmed with the
// same nested memberOf match UsersInGroup uses.
func (s *Service) IsUserInGroup(ctx context.Context, username, group string) bool {
	ctx = s.context(ctx)
	key := username + " in " + group

	groupEntry, err := s.findGroup(ctx, group)
	if err != nil {
		probeFailed(ctx, "is_member", key, err)
		return false
	}
	if groupEntry == nil {
		return false
	}

	sids, found, err := s.tokenGroups(ctx, username)
	if err != nil {
		probeFailed(ctx, "is_member", key, err)
		return false
	}
	if !found {
		return false
	}

	if groupSID, ok := rawValue(groupEntry, "objectSid"); ok && slices.ContainsFunc(sids, func(sid []byte) bool {
		return bytes.Equal(sid, groupSID)
	}) {
		return true
	}

	member, err := s.findEntry(ctx, userFilter(
		"(sAMAccountName="+ldap.EscapeFilter(accountName(username))+")"+
			"(memberOf:"+matchingRuleInChain+":="+ldap.EscapeFilter(groupEntry.DN)+")",
	), []string{"distinguishedName"})
	if err != nil {
		probeFailed(ctx, "is_member", key, err)
		return false
	}
	return member != nil
}
