package shemu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/shemufuzz/go/engine/mock"
	"github.com/lunixbochs/shemufuzz/go/models"
)

func TestReplay(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "crash-0001")
	require.NoError(t, os.WriteFile(path, data, 0644))

	engine := &mock.Engine{Status: models.StatusAbortFetchFault}
	r, heap := newTestRunner(testConfig(models.ArchX64, models.AccessCallback), engine)
	status, err := Replay(r, path)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbortFetchFault, status)
	require.Len(t, engine.Runs, 1)
	assert.Equal(t, uint64(300), engine.Runs[0].ShellcodeSize)
	assert.Equal(t, data, engine.Runs[0].Input)
	assert.Zero(t, heap.Live())
}

func TestReplayEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	engine := &mock.Engine{}
	r, _ := newTestRunner(testConfig(models.ArchX86, models.AccessDirect), engine)
	_, err := Replay(r, path)
	require.NoError(t, err)
	require.Len(t, engine.Runs, 1)
	assert.Zero(t, engine.Runs[0].ShellcodeSize)
}

func TestReplayMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")
	engine := &mock.Engine{}
	r, _ := newTestRunner(testConfig(models.ArchX64, models.AccessCallback), engine)
	_, err := Replay(r, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
	assert.Empty(t, engine.Runs)
}

func TestReplayAllocFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))
	engine := &mock.Engine{}
	r, heap := newTestRunner(testConfig(models.ArchX64, models.AccessCallback), engine)
	heap.Limit = 32
	_, err := Replay(r, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to allocate")
	assert.Empty(t, engine.Runs)
	assert.Zero(t, heap.Live())
}
