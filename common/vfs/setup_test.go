package vfs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	ctx := context.Background()
	backend := newBackendForTesting(t)

	initialized, err := IsInitialized(ctx, backend)
	require.NoError(t, err)
	assert.False(t, initialized)

	first, err := Setup(ctx, backend)
	require.NoError(t, err)
	assert.True(t, first.FirstRun)
	assert.NotEmpty(t, first.InstanceID)
	assert.Equal(t, Version, first.Version)
	assert.False(t, first.Created().IsZero())

	again, err := Setup(ctx, backend)
	require.NoError(t, err)
	assert.False(t, again.FirstRun)
	assert.Equal(t, first.InstanceID, again.InstanceID)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)

	initialized, err = IsInitialized(ctx, backend)
	require.NoError(t, err)
	assert.True(t, initialized)
}

func TestSetupConcurrent(t *testing.T) {
	ctx := context.Background()
	backend := newBackendForTesting(t)

	const callers = 8
	var (
		wg    sync.WaitGroup
		infos = make([]*SetupInfo, callers)
		errs  = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			infos[i], errs[i] = Setup(ctx, backend)
		}()
	}
	wg.Wait()

	firstRuns := 0
	for i := range callers {
		require.NoError(t, errs[i])
		if infos[i].FirstRun {
			firstRuns++
		}
		assert.Equal(t, infos[0].InstanceID, infos[i].InstanceID)
	}
	assert.Equal(t, 1, firstRuns)
}
