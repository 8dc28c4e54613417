package directory

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func sidBytes(rid byte) []byte {
	return []byte{
		0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
		rid, 0x04, 0x00, 0x00,
	}
}

func groupEntry(name string, sid []byte) *ldap.Entry {
	return ldap.NewEntry("CN="+name+",OU=Groups,"+testBaseDN, map[string][]string{
		"sAMAccountName": {name},
		"cn":             {name},
		"name":           {name},
		"objectSid":      {string(sid)},
	})
}

// withTokenGroups registers the two reads behind tokenGroups for jdoe.
func withTokenGroups(client *MockClient, sids ...[]byte) {
	userDN := "CN=jdoe,OU=Staff," + testBaseDN
	values := make([]string, 0, len(sids))
	for _, sid := range sids {
		values = append(values, string(sid))
	}

	client.On("Search", mock.Anything, filterContains("(sAMAccountName=jdoe)")).
		Return(result(ldap.NewEntry(userDN, map[string][]string{})), nil)
	client.On("Search", mock.Anything, baseRead(userDN)).
		Return(result(ldap.NewEntry(userDN, map[string][]string{"tokenGroups": values})), nil)
}

func TestService_UsersInGroup(t *testing.T) {
	ctx := context.Background()
	salesDN := "CN=Sales,OU=Groups," + testBaseDN

	t.Run("resolves by sAMAccountName and expands nested members", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, filterContains("(objectClass=group)", "(sAMAccountName=Sales)")).
			Return(result(groupEntry("Sales", sidBytes(1))), nil)
		client.On("SearchWithPaging", mock.Anything, filterContains(
			"(objectCategory=person)(objectClass=user)",
			"(memberOf:1.2.840.113556.1.4.1941:="+salesDN+")",
		)).Return(result(userEntry("jdoe", nil), userEntry("asmith", nil)), nil)

		users, err := newTestService(t, client).UsersInGroup(ctx, "Sales")

		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "jdoe", users[0].Account())
		client.AssertExpectations(t)
	})

	t.Run("falls back to cn", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, filterContains("(sAMAccountName=Sales Team)")).Return(result(), nil)
		client.On("Search", mock.Anything, filterContains("(cn=Sales Team)")).
			Return(result(groupEntry("Sales Team", sidBytes(2))), nil)
		client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(result(userEntry("jdoe", nil)), nil)

		users, err := newTestService(t, client).UsersInGroup(ctx, "Sales Team")

		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("unknown group is empty", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(result(), nil)

		users, err := newTestService(t, client).UsersInGroup(ctx, "Nobody")

		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("failure is wrapped", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(nil, errTransport)

		_, err := newTestService(t, client).UsersInGroup(ctx, "Sales")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "error retrieving members of group 'Sales'")
	})
}

func TestService_UserGroups(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	withTokenGroups(client, sidBytes(1), sidBytes(2))
	client.On("SearchWithPaging", mock.Anything, filterContains("(objectClass=group)", "(|(objectSid=", `\01\05\00\00\00\00\00\05`)).
		Return(result(groupEntry("Sales", sidBytes(1)), groupEntry("Domain Users", sidBytes(2))), nil)

	groups, err := newTestService(t, client).UserGroups(ctx, "jdoe")

	require.NoError(t, err)
	assert.Equal(t, []string{"Domain Users", "Sales"}, groups)
	client.AssertExpectations(t)
}

func TestService_UserGroups_UnknownUser(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(result(), nil)

	groups, err := newTestService(t, client).UserGroups(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Nil(t, groups)
}

func TestService_IsUserInGroup(t *testing.T) {
	ctx := context.Background()
	chain := "(memberOf:1.2.840.113556.1.4.1941:="

	tests := []struct {
		name     string
		group    *ldap.Entry
		tokens   [][]byte
		chain    *ldapclient.SearchResult
		chainErr error
		want     bool
	}{
		{"nested member via token groups", groupEntry("Sales", sidBytes(1)), [][]byte{sidBytes(9), sidBytes(1)}, result(), nil, true},
		{"distribution group member", groupEntry("AllStaff", sidBytes(7)), [][]byte{sidBytes(9)}, result(userEntry("jdoe", nil)), nil, true},
		{"not a member", groupEntry("Sales", sidBytes(1)), [][]byte{sidBytes(9)}, result(), nil, false},
		{"membership lookup fails", groupEntry("AllStaff", sidBytes(7)), [][]byte{sidBytes(9)}, nil, errors.New("server busy"), false},
		{"unknown group", nil, [][]byte{sidBytes(1)}, result(), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			// Registered first: the membership filter also names the account.
			client.On("Search", mock.Anything, filterContains(chain)).Return(tt.chain, tt.chainErr)
			withTokenGroups(client, tt.tokens...)
			if tt.group != nil {
				client.On("Search", mock.Anything, filterContains("(objectClass=group)")).Return(result(tt.group), nil)
			} else {
				client.On("Search", mock.Anything, filterContains("(objectClass=group)")).Return(result(), nil)
			}

			assert.Equal(t, tt.want, newTestService(t, client).IsUserInGroup(ctx, "jdoe", "Sales"))
		})
	}

	t.Run("token hit skips the membership search", func(t *testing.T) {
		client := &MockClient{}
		withTokenGroups(client, sidBytes(1))
		client.On("Search", mock.Anything, filterContains("(objectClass=group)")).Return(result(groupEntry("Sales", sidBytes(1))), nil)

		assert.True(t, newTestService(t, client).IsUserInGroup(ctx, "jdoe", "Sales"))
		client.AssertNotCalled(t, "Search", mock.Anything, filterContains(chain))
	})

	t.Run("agrees with UsersInGroup for a distribution group", func(t *testing.T) {
		allStaffDN := "CN=AllStaff,OU=Groups," + testBaseDN
		client := &MockClient{}
		client.On("Search", mock.Anything, filterContains(chain+allStaffDN+")", "(sAMAccountName=jdoe)")).
			Return(result(userEntry("jdoe", nil)), nil)
		withTokenGroups(client, sidBytes(9))
		client.On("Search", mock.Anything, filterContains("(objectClass=group)")).Return(result(groupEntry("AllStaff", sidBytes(7))), nil)
		client.On("SearchWithPaging", mock.Anything, filterContains(chain+allStaffDN+")")).
			Return(result(userEntry("jdoe", nil)), nil)

		svc := newTestService(t, client)
		members, err := svc.UsersInGroup(ctx, "AllStaff")
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "jdoe", members[0].Account())
		assert.True(t, svc.IsUserInGroup(ctx, "jdoe", "AllStaff"))
	})
}

func TestService_FindGroup_ByIdentifier(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		group  string
		filter string
	}{
		{"sid", "S-1-5-21-1-2-3-1105", "(objectSid=S-1-5-21-1-2-3-1105)"},
		{"guid", "12345678-1234-5678-9abc-def012345678", `(objectGUID=\78\56\34\12\34\12\78\56\9a\bc\de\f0\12\34\56\78)`},
		{"domain qualified name", `EXAMPLE\Sales`, "(sAMAccountName=Sales)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			client.On("Search", mock.Anything, filterContains("(objectClass=group)", tt.filter)).
				Return(result(groupEntry("Sales", sidBytes(1))), nil)

			entry, err := newTestService(t, client).findGroup(ctx, tt.group)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, "CN=Sales,OU=Groups,"+testBaseDN, entry.DN)
		})
	}

	t.Run("empty", func(t *testing.T) {
		client := &MockClient{}
		entry, err := newTestService(t, client).findGroup(ctx, "  ")
		assert.NoError(t, err)
		assert.Nil(t, entry)
		client.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	})
}
