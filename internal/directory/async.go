package directory

import (
	"context"

	ldapclient "github.com/isometry/ad-userinfo/internal/ldap"
)

// Result carries the outcome of an asynchronous lookup.
//
// The Async methods return a buffered channel that receives one value and is
// then closed, so a caller may abandon it without leaking the goroutine.
type Result[T any] struct {
	Value T
	Err   error
}

// goResult runs fn on its own goroutine and delivers exactly one Result.
func goResult[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// goValue runs fn on its own goroutine and delivers exactly one value.
func goValue[T any](fn func() T) <-chan T {
	ch := make(chan T, 1)
	go func() {
		defer close(ch)
		ch <- fn()
	}()
	return ch
}

// UserByUsernameAsync runs UserByUsername on its own goroutine.
func (s *Service) UserByUsernameAsync(ctx context.Context, username string) <-chan Result[*UserRecord] {
	return goResult(func() (*UserRecord, error) { return s.UserByUsername(ctx, username) })
}

// UserByEmailAsync runs UserByEmail on its own goroutine.
func (s *Service) UserByEmailAsync(ctx context.Context, email string) <-chan Result[*UserRecord] {
	return goResult(func() (*UserRecord, error) { return s.UserByEmail(ctx, email) })
}

// UsersByEmailAsync runs UsersByEmail on its own goroutine.
func (s *Service) UsersByEmailAsync(ctx context.Context, email string) <-chan Result[[]*UserRecord] {
	return goResult(func() ([]*UserRecord, error) { return s.UsersByEmail(ctx, email) })
}

// UserByEmployeeIDAsync runs UserByEmployeeID on its own goroutine.
func (s *Service) UserByEmployeeIDAsync(ctx context.Context, employeeID string) <-chan Result[*UserRecord] {
	return goResult(func() (*UserRecord, error) { return s.UserByEmployeeID(ctx, employeeID) })
}

// UserByDNAsync runs UserByDN on its own goroutine.
func (s *Service) UserByDNAsync(ctx context.Context, dn string) <-chan Result[*UserRecord] {
	return goResult(func() (*UserRecord, error) { return s.UserByDN(ctx, dn) })
}

// ExistsAsync delivers the fail-closed result of Exists.
func (s *Service) ExistsAsync(ctx context.Context, username string) <-chan bool {
	return goValue(func() bool { return s.Exists(ctx, username) })
}

// ExistsByEmailAsync delivers the fail-closed result of ExistsByEmail.
func (s *Service) ExistsByEmailAsync(ctx context.Context, email string) <-chan bool {
	return goValue(func() bool { return s.ExistsByEmail(ctx, email) })
}

// IsEnabledAsync delivers the fail-closed result of IsEnabled.
func (s *Service) IsEnabledAsync(ctx context.Context, username string) <-chan bool {
	return goValue(func() bool { return s.IsEnabled(ctx, username) })
}

// IsLockedOutAsync delivers the fail-closed result of IsLockedOut.
func (s *Service) IsLockedOutAsync(ctx context.Context, username string) <-chan bool {
	return goValue(func() bool { return s.IsLockedOut(ctx, username) })
}

// UsersInGroupAsync runs UsersInGroup on its own goroutine.
func (s *Service) UsersInGroupAsync(ctx context.Context, group string) <-chan Result[[]*UserRecord] {
	return goResult(func() ([]*UserRecord, error) { return s.UsersInGroup(ctx, group) })
}

// UserGroupsAsync runs UserGroups on its own goroutine.
func (s *Service) UserGroupsAsync(ctx context.Context, username string) <-chan Result[[]string] {
	return goResult(func() ([]string, error) { return s.UserGroups(ctx, username) })
}

// IsUserInGroupAsync delivers the fail-closed result of IsUserInGroup.
func (s *Service) IsUserInGroupAsync(ctx context.Context, username, group string) <-chan bool {
	return goValue(func() bool { return s.IsUserInGroup(ctx, username, group) })
}

// UsersByDepartmentAsync runs UsersByDepartment on its own goroutine.
func (s *Service) UsersByDepartmentAsync(ctx context.Context, department string) <-chan Result[[]*UserRecord] {
	return goResult(func() ([]*UserRecord, error) { return s.UsersByDepartment(ctx, department) })
}

// DirectReportsAsync runs DirectReports on its own goroutine.
func (s *Service) DirectReportsAsync(ctx context.Context, manager string) <-chan Result[[]*UserRecord] {
	return goResult(func() ([]*UserRecord, error) { return s.DirectReports(ctx, manager) })
}

// SearchAsync runs Search on its own goroutine.
func (s *Service) SearchAsync(ctx context.Context, term string, maxResults int) <-chan Result[[]*UserRecord] {
	return goResult(func() ([]*UserRecord, error) { return s.Search(ctx, term, maxResults) })
}

// ValidateCredentialsAsync delivers the fail-closed result of ValidateCredentials.
func (s *Service) ValidateCredentialsAsync(ctx context.Context, username, password string) <-chan bool {
	return goValue(func() bool { return s.ValidateCredentials(ctx, username, password) })
}

// UserPhotoAsync delivers the photo bytes, nil when absent or on error.
func (s *Service) UserPhotoAsync(ctx context.Context, username string) <-chan []byte {
	return goValue(func() []byte { return s.UserPhoto(ctx, username) })
}

// AllUsersAsync runs AllUsers on its own goroutine.
func (s *Service) AllUsersAsync(ctx context.Context) <-chan Result[[]*UserRecord] {
	return goResult(func() ([]*UserRecord, error) { return s.AllUsers(ctx) })
}

// WhoAmIAsync runs WhoAmI on its own goroutine.
func (s *Service) WhoAmIAsync(ctx context.Context) <-chan Result[*ldapclient.WhoAmIResult] {
	return goResult(func() (*ldapclient.WhoAmIResult, error) { return s.WhoAmI(ctx) })
}

// ExportAllUsersAsync runs ExportAllUsers and delivers the written file path.
func (s *Service) ExportAllUsersAsync(ctx context.Context, dir string) <-chan Result[string] {
	return goResult(func() (string, error) { return s.ExportAllUsers(ctx, dir) })
}
