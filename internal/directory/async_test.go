package directory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAsync_DeliversSyncResult(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=jdoe)")).Return(result(userEntry("jdoe", nil)), nil)
	client.On("Search", mock.Anything, filterContains("(sAMAccountName=ghost)")).Return(result(), nil)
	client.On("VerifyCredentials", mock.Anything, "jdoe@example.com", "secret").Return(nil)

	svc := newTestService(t, client)

	res := <-svc.UserByUsernameAsync(ctx, "jdoe")
	require.NoError(t, res.Err)
	assert.Equal(t, "jdoe", res.Value.Account())

	res = <-svc.UserByUsernameAsync(ctx, "ghost")
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Value)

	assert.True(t, <-svc.ExistsAsync(ctx, "jdoe"))
	assert.False(t, <-svc.ExistsAsync(ctx, "ghost"))
	assert.True(t, <-svc.IsEnabledAsync(ctx, "jdoe"))
	assert.True(t, <-svc.ValidateCredentialsAsync(ctx, "jdoe", "secret"))
}

func TestAsync_DeliversErrors(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(nil, errTransport)

	res := <-newTestService(t, client).UserByUsernameAsync(context.Background(), "jdoe")

	var opErr *DirectoryOperationError
	assert.ErrorAs(t, res.Err, &opErr)
}

func TestAsync_ChannelClosesAfterOneValue(t *testing.T) {
	ch := goValue(func() int { return 42 })

	assert.Equal(t, 42, <-ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestAsync_ConcurrentCalls(t *testing.T) {
	ctx := context.Background()

	client := &MockClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(result(userEntry("jdoe", nil)), nil)
	svc := newTestService(t, client)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, <-svc.ExistsAsync(ctx, "jdoe"))
		}()
	}
	wg.Wait()
}
