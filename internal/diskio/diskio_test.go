package diskio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T) *FileDiskManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestFileDiskManager_AllocateIsMonotonicAndSkipsZero(t *testing.T) {
	d := newTestDisk(t)

	p1, err := d.AllocatePage()
	require.NoError(t, err)
	require.NotEqual(t, InvalidPageID, p1)

	p2, err := d.AllocatePage()
	require.NoError(t, err)
	require.Greater(t, p2, p1)
}

func TestFileDiskManager_WriteThenReadRoundTrips(t *testing.T) {
	d := newTestDisk(t)

	id, err := d.AllocatePage()
	require.NoError(t, err)

	buf := make([]byte, PageSize)
	buf[0] = 0xAB
	buf[PageSize-1] = 0xCD
	require.NoError(t, d.WritePage(id, buf))

	got := make([]byte, PageSize)
	require.NoError(t, d.ReadPage(id, got))
	require.Equal(t, buf, got)
}

func TestFileDiskManager_ReadUnwrittenPageIsZeroed(t *testing.T) {
	d := newTestDisk(t)

	id, err := d.AllocatePage()
	require.NoError(t, err)

	got := make([]byte, PageSize)
	for i := range got {
		got[i] = 0xFF
	}
	require.NoError(t, d.ReadPage(id, got))
	for _, b := range got {
		require.Zero(t, b)
	}
}

func TestFileDiskManager_DeallocatedIDIsReused(t *testing.T) {
	d := newTestDisk(t)

	id, err := d.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, d.DeallocatePage(id))

	reused, err := d.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestFileDiskManager_RejectsInvalidPageID(t *testing.T) {
	d := newTestDisk(t)
	buf := make([]byte, PageSize)

	require.ErrorIs(t, d.ReadPage(InvalidPageID, buf), ErrInvalidPageID)
	require.ErrorIs(t, d.WritePage(InvalidPageID, buf), ErrInvalidPageID)
	require.ErrorIs(t, d.DeallocatePage(InvalidPageID), ErrInvalidPageID)
}

func TestFileDiskManager_RejectsWrongSizeBuffer(t *testing.T) {
	d := newTestDisk(t)
	id, err := d.AllocatePage()
	require.NoError(t, err)

	bad := make([]byte, PageSize-1)
	require.ErrorIs(t, d.ReadPage(id, bad), ErrBadPageSize)
	require.ErrorIs(t, d.WritePage(id, bad), ErrBadPageSize)
}
