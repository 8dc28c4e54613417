package directory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

const testBaseDN = "DC=example,DC=com"

// MockClient implements ldapclient.Client for testing the Service.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) VerifyCredentials(ctx context.Context, username, password string) error {
	args := m.Called(ctx, username, password)
	return args.Error(0)
}

func (m *MockClient) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(*ldapclient.SearchResult)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func (m *MockClient) SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(*ldapclient.SearchResult)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func (m *MockClient) GetBaseDN(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockClient) WhoAmI(ctx context.Context) (*ldapclient.WhoAmIResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(*ldapclient.WhoAmIResult)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Stats() ldapclient.PoolStats {
	args := m.Called()
	if stats, ok := args.Get(0).(ldapclient.PoolStats); ok {
		return stats
	}
	return ldapclient.PoolStats{}
}

// newTestService builds a Service for example.com rooted at testBaseDN.
func newTestService(t *testing.T, client *MockClient, opts ...Option) *Service {
	t.Helper()

	o := Options{Domain: "example.com"}
	for _, opt := range opts {
		opt(&o)
	}

	return newService(client, &ldapclient.ConnectionConfig{
		Domain:  "example.com",
		BaseDN:  testBaseDN,
		Timeout: 30 * time.Second,
	}, o)
}

// filterContains matches search requests whose filter contains every fragment.
func filterContains(fragments ...string) any {
	return mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
		for _, f := range fragments {
			if !strings.Contains(req.Filter, f) {
				return false
			}
		}
		return true
	})
}

// baseRead matches base-scope reads of dn.
func baseRead(dn string) any {
	return mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
		return req.Scope == ldapclient.ScopeBaseObject && req.BaseDN == dn
	})
}

func result(entries ...*ldap.Entry) *ldapclient.SearchResult {
	return &ldapclient.SearchResult{Entries: entries, Total: len(entries)}
}

// userEntry builds a user entry; attrs override the defaults.
func userEntry(sam string, attrs map[string][]string) *ldap.Entry {
	dn := "CN=" + sam + ",OU=Staff," + testBaseDN
	values := map[string][]string{
		"sAMAccountName":     {sam},
		"userPrincipalName":  {sam + "@example.com"},
		"displayName":        {strings.ToUpper(sam[:1]) + sam[1:]},
		"mail":               {sam + "@example.com"},
		"userAccountControl": {"512"},
	}
	for k, v := range attrs {
		if v == nil {
			delete(values, k)
			continue
		}
		values[k] = v
	}
	return ldap.NewEntry(dn, values)
}
