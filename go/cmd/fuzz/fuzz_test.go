package fuzz

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/shemufuzz/go/cmd"
	"github.com/lunixbochs/shemufuzz/go/engine/unicorn"
	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
)

func TestCorpusFilesNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"id10", "id2", "id1"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0x90}, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".state"), 0755))

	paths, err := corpusFiles(dir)
	require.NoError(t, err)
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"id1", "id2", "id10"}, names)

	_, err = corpusFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFakeChildKillStopsEngine(t *testing.T) {
	if _, err := os.Stat("/bin/cat"); err != nil {
		t.Skip("no /bin/cat")
	}
	env := &cmd.Env{Config: models.DefaultConfig(), Log: log.NewNop(), Engine: unicorn.New(nil)}
	child := fakeChild(env)
	require.NotNil(t, child.OnExit)

	stopped := make(chan struct{})
	onExit := child.OnExit
	child.OnExit = func() {
		onExit()
		close(stopped)
	}
	_, err := child.Start()
	require.NoError(t, err)
	require.NoError(t, child.Kill())
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("engine was not stopped")
	}
}
