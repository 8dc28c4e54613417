package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

var errTransport = ldapclient.NewLDAPError("search", ldap.NewError(ldap.LDAPResultServerDown, errors.New("connection reset")))

func TestService_UserByUsername(t *testing.T) {
	ctx := context.Background()

	t.Run("present users are returned by account name", func(t *testing.T) {
		for _, sam := range []string{"jdoe", "asmith", "svc-backup"} {
			client := &MockClient{}
			client.On("Search", mock.Anything, filterContains("(sAMAccountName="+sam+")")).Return(result(userEntry(sam, nil)), nil)

			user, err := newTestService(t, client).UserByUsername(ctx, sam)

			require.NoError(t, err)
			require.NotNil(t, user)
			assert.Equal(t, sam, user.Account())
			client.AssertExpectations(t)
		}
	})

	t.Run("domain prefix is stripped", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, filterContains("(sAMAccountName=jdoe)")).Return(result(userEntry("jdoe", nil)), nil)

		user, err := newTestService(t, client).UserByUsername(ctx, `EXAMPLE\jdoe`)

		require.NoError(t, err)
		assert.Equal(t, "jdoe", user.Account())
	})

	t.Run("absent user is nil without error", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(result(), nil)

		user, err := newTestService(t, client).UserByUsername(ctx, "ghost")

		assert.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("filter values are escaped", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, filterContains(`(sAMAccountName=j\2a\28doe\29)`)).Return(result(), nil)

		_, err := newTestService(t, client).UserByUsername(ctx, "j*(doe)")

		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("transport failure is wrapped", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(nil, errTransport)

		user, err := newTestService(t, client).UserByUsername(ctx, "jdoe")

		assert.Nil(t, user)
		var opErr *DirectoryOperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "jdoe", opErr.Key)
		assert.Contains(t, err.Error(), "error retrieving user by username 'jdoe'")
		assert.ErrorIs(t, err, errTransport)
	})

	t.Run("empty name short-circuits", func(t *testing.T) {
		client := &MockClient{}

		user, err := newTestService(t, client).UserByUsername(ctx, "  ")

		assert.NoError(t, err)
		assert.Nil(t, user)
		client.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	})
}

func TestService_UserByEmployeeID(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	client.On("Search", mock.Anything, filterContains("(employeeID=E100)")).
		Return(result(userEntry("jdoe", map[string][]string{"employeeID": {"E100"}})), nil)
	client.On("Search", mock.Anything, filterContains("(employeeID=E404)")).Return(result(), nil)
	client.On("Search", mock.Anything, filterContains("(employeeID=E500)")).Return(nil, errTransport)

	svc := newTestService(t, client)

	user, err := svc.UserByEmployeeID(ctx, " E100 ")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jdoe", user.Account())
	require.NotNil(t, user.EmployeeID)
	assert.Equal(t, "E100", *user.EmployeeID)

	user, err = svc.UserByEmployeeID(ctx, "E404")
	assert.NoError(t, err)
	assert.Nil(t, user)

	_, err = svc.UserByEmployeeID(ctx, "E500")
	assert.ErrorContains(t, err, "error retrieving user by employee ID 'E500'")
	assert.ErrorIs(t, err, errTransport)
}

func TestService_ProbesFailClosed(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(nil, errTransport)
	client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(nil, errTransport)
	client.On("VerifyCredentials", mock.Anything, mock.Anything, mock.Anything).Return(errTransport)

	svc := newTestService(t, client)

	assert.False(t, svc.Exists(ctx, "jdoe"))
	assert.False(t, svc.ExistsByEmail(ctx, "jdoe@example.com"))
	assert.False(t, svc.IsEnabled(ctx, "jdoe"))
	assert.False(t, svc.IsLockedOut(ctx, "jdoe"))
	assert.False(t, svc.IsUserInGroup(ctx, "jdoe", "Sales"))
	assert.False(t, svc.ValidateCredentials(ctx, "jdoe", "secret"))
	assert.Nil(t, svc.UserPhoto(ctx, "jdoe"))
}

func TestService_Probes(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=enabled)")).
		Return(result(userEntry("enabled", nil)), nil)
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=disabled)")).
		Return(result(userEntry("disabled", map[string][]string{"userAccountControl": {"514"}})), nil)
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=locked)")).
		Return(result(userEntry("locked", map[string][]string{"msDS-User-Account-Control-Computed": {"16"}})), nil)
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=ghost)")).
		Return(result(), nil)

	svc := newTestService(t, client)

	assert.True(t, svc.Exists(ctx, "enabled"))
	assert.False(t, svc.Exists(ctx, "ghost"))
	assert.True(t, svc.IsEnabled(ctx, "enabled"))
	assert.False(t, svc.IsEnabled(ctx, "disabled"))
	assert.False(t, svc.IsEnabled(ctx, "ghost"))
	assert.True(t, svc.IsLockedOut(ctx, "locked"))
	assert.False(t, svc.IsLockedOut(ctx, "enabled"))
}

func TestService_UsersByEmail_Deduplicates(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	client.On("Search", mock.Anything, filterContains("(userPrincipalName=jdoe@example.com)")).
		Return(result(userEntry("jdoe", nil)), nil)
	client.On("SearchWithPaging", mock.Anything, filterContains("(mail=jdoe@example.com)")).
		Return(result(
			userEntry("JDOE", nil),
			userEntry("jdoe-admin", map[string][]string{"mail": {"jdoe@example.com"}}),
		), nil)

	svc := newTestService(t, client)

	users, err := svc.UsersByEmail(ctx, "jdoe@example.com")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "jdoe", users[0].Account())
	assert.Equal(t, "jdoe-admin", users[1].Account())

	first, err := svc.UserByEmail(ctx, "jdoe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", first.Account())

	assert.True(t, svc.ExistsByEmail(ctx, "jdoe@example.com"))
}

func TestService_UserByDN(t *testing.T) {
	ctx := context.Background()
	dn := "CN=jdoe,OU=Staff," + testBaseDN

	t.Run("reads the object at dn", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, baseRead(dn)).Return(result(userEntry("jdoe", nil)), nil)

		user, err := newTestService(t, client).UserByDN(ctx, dn)

		require.NoError(t, err)
		assert.Equal(t, "jdoe", user.Account())
	})

	t.Run("no such object is a miss", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, baseRead(dn)).
			Return(nil, ldapclient.NewLDAPError("search", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("0000208D"))))

		user, err := newTestService(t, client).UserByDN(ctx, dn)

		assert.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("invalid dn is an error", func(t *testing.T) {
		client := &MockClient{}

		_, err := newTestService(t, client).UserByDN(ctx, "not a dn")

		var opErr *DirectoryOperationError
		assert.ErrorAs(t, err, &opErr)
	})
}

func TestService_DirectReports_SkipsUnresolvable(t *testing.T) {
	ctx := context.Background()

	reportA := "CN=a,OU=Staff," + testBaseDN
	reportB := "CN=b,OU=Staff," + testBaseDN
	reportGone := "CN=gone,OU=Staff," + testBaseDN

	client := &MockClient{}
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=boss)")).
		Return(result(userEntry("boss", map[string][]string{"directReports": {reportA, reportB, reportGone}})), nil)
	client.On("Search", mock.Anything, baseRead(reportA)).Return(result(userEntry("a", nil)), nil)
	client.On("Search", mock.Anything, baseRead(reportB)).Return(nil, errTransport)
	client.On("Search", mock.Anything, baseRead(reportGone)).Return(result(), nil)

	reports, err := newTestService(t, client).DirectReports(ctx, "boss")

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "a", reports[0].Account())
}

func TestService_DirectReports_ManagerFailure(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(nil, errTransport)

	_, err := newTestService(t, client).DirectReports(context.Background(), "boss")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error retrieving direct reports of manager 'boss'")
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		max       int
		wantLimit int
	}{
		{"default limit", 0, DefaultSearchLimit},
		{"negative uses default", -5, DefaultSearchLimit},
		{"explicit limit", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			client.On("SearchWithPaging", mock.Anything, mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
				return req.SizeLimit == tt.wantLimit &&
					req.Filter == "(&(objectCategory=person)(objectClass=user)(|(displayName=*doe*)(sAMAccountName=*doe*)(cn=*doe*)))"
			})).Return(result(userEntry("jdoe", nil), userEntry("adoe", nil), userEntry("bdoe", nil)), nil)

			users, err := newTestService(t, client).Search(ctx, "doe", tt.max)

			require.NoError(t, err)
			assert.LessOrEqual(t, len(users), tt.wantLimit)
			client.AssertExpectations(t)
		})
	}
}

func TestService_UsersByDepartment(t *testing.T) {
	client := &MockClient{}
	client.On("SearchWithPaging", mock.Anything, filterContains("(department=Sales)")).
		Return(result(userEntry("jdoe", map[string][]string{"department": {"Sales"}})), nil).Once()

	users, err := newTestService(t, client).UsersByDepartment(context.Background(), "Sales")

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Sales", *users[0].Department)
	client.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestService_ValidateCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("bare account name is qualified with the domain", func(t *testing.T) {
		client := &MockClient{}
		client.On("VerifyCredentials", mock.Anything, "jdoe@example.com", "secret").Return(nil)

		assert.True(t, newTestService(t, client).ValidateCredentials(ctx, "jdoe", "secret"))
		client.AssertExpectations(t)
	})

	t.Run("qualified names pass through", func(t *testing.T) {
		client := &MockClient{}
		client.On("VerifyCredentials", mock.Anything, `EXAMPLE\jdoe`, "secret").Return(nil)

		assert.True(t, newTestService(t, client).ValidateCredentials(ctx, `EXAMPLE\jdoe`, "secret"))
	})

	t.Run("empty password never binds", func(t *testing.T) {
		client := &MockClient{}

		assert.False(t, newTestService(t, client).ValidateCredentials(ctx, "jdoe", ""))
		client.AssertNotCalled(t, "VerifyCredentials", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bad password is false", func(t *testing.T) {
		client := &MockClient{}
		client.On("VerifyCredentials", mock.Anything, mock.Anything, mock.Anything).
			Return(ldapclient.NewLDAPError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("52e"))))

		assert.False(t, newTestService(t, client).ValidateCredentials(ctx, "jdoe", "wrong"))
	})
}

func TestService_UserPhoto(t *testing.T) {
	photo := string([]byte{0xff, 0xd8, 0xff})

	client := &MockClient{}
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=jdoe)")).
		Return(result(ldap.NewEntry("CN=jdoe,"+testBaseDN, map[string][]string{"thumbnailPhoto": {photo}})), nil)
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=nophoto)")).
		Return(result(ldap.NewEntry("CN=nophoto,"+testBaseDN, map[string][]string{})), nil)

	svc := newTestService(t, client)

	assert.Equal(t, []byte(photo), svc.UserPhoto(context.Background(), "jdoe"))
	assert.Nil(t, svc.UserPhoto(context.Background(), "nophoto"))
}

func TestService_AllUsers_SkipsEntriesWithoutAccountName(t *testing.T) {
	client := &MockClient{}
	client.On("SearchWithPaging", mock.Anything, mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
		return req.Filter == "(&(objectCategory=person)(objectClass=user))" && req.BaseDN == testBaseDN
	})).Return(result(
		userEntry("jdoe", nil),
		userEntry("orphan", map[string][]string{"sAMAccountName": nil}),
		userEntry("asmith", nil),
	), nil)

	users, err := newTestService(t, client).AllUsers(context.Background())

	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "jdoe", users[0].Account())
	assert.Equal(t, "asmith", users[1].Account())
}

func TestService_Path(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"domain and container", Options{Domain: "example.com", Container: "OU=Staff,DC=example,DC=com"}, "LDAP://example.com/OU=Staff,DC=example,DC=com"},
		{"domain only", Options{Domain: "example.com"}, "LDAP://example.com"},
		{"neither", Options{}, "LDAP://RootDSE"},
		{"container without domain", Options{Container: "OU=Staff"}, "LDAP://RootDSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(&MockClient{}, ldapclient.DefaultConfig(), tt.opts)
			assert.Equal(t, tt.want, svc.Path())
		})
	}
}

func TestService_BaseDN(t *testing.T) {
	ctx := context.Background()

	t.Run("relative container joins the naming context", func(t *testing.T) {
		client := &MockClient{}
		client.On("GetBaseDN", mock.Anything).Return(testBaseDN, nil).Once()

		svc := newService(client, &ldapclient.ConnectionConfig{Domain: "example.com"}, Options{Container: "OU=Staff"})

		baseDN, err := svc.BaseDN(ctx)
		require.NoError(t, err)
		assert.Equal(t, "OU=Staff,"+testBaseDN, baseDN)

		// Resolved once.
		_, err = svc.BaseDN(ctx)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("absolute container is used as-is", func(t *testing.T) {
		client := &MockClient{}
		svc := newService(client, &ldapclient.ConnectionConfig{Domain: "example.com"}, Options{Container: "OU=Staff,DC=other,DC=com"})

		baseDN, err := svc.BaseDN(ctx)
		require.NoError(t, err)
		assert.Equal(t, "OU=Staff,DC=other,DC=com", baseDN)
		client.AssertNotCalled(t, "GetBaseDN", mock.Anything)
	})

	t.Run("root DSE failure falls back to the domain", func(t *testing.T) {
		client := &MockClient{}
		client.On("GetBaseDN", mock.Anything).Return("", errTransport)
		svc := newService(client, &ldapclient.ConnectionConfig{Domain: "corp.example.com"}, Options{})

		baseDN, err := svc.BaseDN(ctx)
		require.NoError(t, err)
		assert.Equal(t, "DC=corp,DC=example,DC=com", baseDN)
	})
}

func TestService_WhoAmI(t *testing.T) {
	client := &MockClient{}
	client.On("WhoAmI", mock.Anything).Return(ldapclient.ParseAuthzID(`u:EXAMPLE\jdoe`), nil)

	who, err := newTestService(t, client).WhoAmI(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sam", who.Format)
	assert.Equal(t, `EXAMPLE\jdoe`, who.SAMAccountName)
}

type fakeExporter struct {
	dir   string
	users []*UserRecord
	err   error
}

func (f *fakeExporter) WriteFile(dir string, users []*UserRecord) (string, error) {
	f.dir, f.users = dir, users
	if f.err != nil {
		return "", f.err
	}
	return dir + "/ADUsers_20240101_000000.xlsx", nil
}

func TestService_ExportAllUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("writes every user", func(t *testing.T) {
		client := &MockClient{}
		client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(result(userEntry("jdoe", nil), userEntry("asmith", nil)), nil)
		exporter := &fakeExporter{}

		path, err := newTestService(t, client, WithExporter(exporter)).ExportAllUsers(ctx, "/tmp/out")

		require.NoError(t, err)
		assert.Equal(t, "/tmp/out/ADUsers_20240101_000000.xlsx", path)
		assert.Equal(t, "/tmp/out", exporter.dir)
		assert.Len(t, exporter.users, 2)
	})

	t.Run("writer failure is wrapped", func(t *testing.T) {
		client := &MockClient{}
		client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(result(), nil)
		exporter := &fakeExporter{err: errors.New("disk full")}

		_, err := newTestService(t, client, WithExporter(exporter)).ExportAllUsers(ctx, "/tmp/out")

		require.Error(t, err)
		assert.Equal(t, "error exporting users to Excel: disk full", err.Error())
	})

	t.Run("no exporter configured", func(t *testing.T) {
		_, err := newTestService(t, &MockClient{}).ExportAllUsers(ctx, "/tmp/out")
		assert.ErrorIs(t, err, ErrNoExporter)
	})
}

func TestOptions_ConnectionConfig(t *testing.T) {
	t.Run("explicit values override the connection config", func(t *testing.T) {
		base := ldapclient.DefaultConfig()
		base.Domain = "other.com"
		base.Username = "svc"

		o := Options{Domain: "example.com", Username: "jdoe", Password: "secret", Connection: base, PageSize: 250}
		cfg, err := o.connectionConfig()

		require.NoError(t, err)
		assert.Equal(t, "example.com", cfg.Domain)
		assert.Equal(t, "jdoe", cfg.Username)
		assert.Equal(t, "secret", cfg.Password)
		assert.Equal(t, uint32(250), cfg.PageSize)
		assert.Equal(t, "other.com", base.Domain, "caller's config must not be modified")
	})

	t.Run("domain detected from resolv.conf", func(t *testing.T) {
		t.Setenv("USERDNSDOMAIN", "")
		path := t.TempDir() + "/resolv.conf"
		require.NoError(t, writeFile(path, "nameserver 10.0.0.1\nsearch Corp.Example.COM\n"))

		cfg, err := (&Options{ResolvConf: path}).connectionConfig()

		require.NoError(t, err)
		assert.Equal(t, "corp.example.com", cfg.Domain)
	})

	t.Run("no domain anywhere", func(t *testing.T) {
		t.Setenv("USERDNSDOMAIN", "")

		_, err := (&Options{ResolvConf: t.TempDir() + "/missing"}).connectionConfig()

		assert.ErrorIs(t, err, ErrNoDomain)
	})
}
