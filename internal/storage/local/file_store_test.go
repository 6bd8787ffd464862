// Package local_test tests the capture file store.
package local_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screencrawl/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestURLFor(t *testing.T) {
	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root, PublicURL: "http://localhost:8080/"})
	require.NoError(t, err)

	got, err := store.URLFor(filepath.Join(root, "job", "example_com_part_1.png"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/job/example_com_part_1.png", got)

	got, err = store.URLFor(filepath.Join(root, "a b.png"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/a%20b.png", got)

	_, err = store.URLFor(filepath.Join(filepath.Dir(root), "elsewhere.png"))
	require.ErrorIs(t, err, local.ErrOutsideRoot)
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)

	got, err := store.Resolve("job/x.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "job", "x.png"), got)

	// Cleaning pins ".." at the root, so traversal collapses inside it.
	got, err = store.Resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "etc", "passwd"), got)

	_, err = store.Resolve("")
	require.ErrorIs(t, err, local.ErrOutsideRoot)
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)

	got, err := store.Dir("")
	require.NoError(t, err)
	assert.Equal(t, store.Root(), got)

	got, err = store.Dir("shots/today")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "shots", "today"), got)

	_, err = store.Dir("../escape")
	require.ErrorIs(t, err, local.ErrOutsideRoot)
	_, err = store.Dir("/abs")
	require.ErrorIs(t, err, local.ErrOutsideRoot)
}

func TestObjectKey(t *testing.T) {
	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)

	key, err := store.ObjectKey(filepath.Join(root, "job", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "job/a.pdf", key)
}
