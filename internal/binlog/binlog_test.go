package binlog_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/binlog"
	"github.com/calvinalkan/kvserver/internal/fsutil"
)

func Test_Binlog_AppendThenRead_RoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := fsutil.NewReal()

	bl, err := binlog.Open(dir, fs, binlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bl.Close() })

	items := []binlog.Item{
		{Header: binlog.ItemHeader{TermID: 1, LogicIndex: 1}, Content: []byte("set a 1")},
		{Header: binlog.ItemHeader{TermID: 1, LogicIndex: 2}, Content: []byte("set b 2")},
	}

	var positions []binlog.Position

	for _, it := range items {
		pos, err := bl.Append(it)
		require.NoError(t, err)
		positions = append(positions, pos)
	}

	require.NoError(t, bl.Sync())

	reader, err := binlog.NewReader(dir, fs, positions[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	for _, want := range items {
		got, err := reader.Next()
		require.NoError(t, err)
		require.Equal(t, want.Header, got.Header)
		require.Equal(t, want.Content, got.Content)
	}

	_, err = reader.Next()
	require.ErrorIs(t, err, binlog.ErrEOF)
}

func Test_Binlog_AppendAcrossBlockBoundary_Survives(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := fsutil.NewReal()

	bl, err := binlog.Open(dir, fs, binlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bl.Close() })

	large := make([]byte, 200*1024)
	for i := range large {
		large[i] = byte(i % 251)
	}

	pos, err := bl.Append(binlog.Item{Header: binlog.ItemHeader{LogicIndex: 1}, Content: large})
	require.NoError(t, err)
	require.NoError(t, bl.Sync())

	reader, err := binlog.NewReader(dir, fs, pos)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	got, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, large, got.Content)
}

func Test_Binlog_Rotate_StartsNewSegment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := fsutil.NewReal()

	bl, err := binlog.Open(dir, fs, binlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bl.Close() })

	before := bl.GetProducerStatus()

	require.NoError(t, bl.Rotate())

	after := bl.GetProducerStatus()
	require.Greater(t, after.FileNum, before.FileNum)
	require.Equal(t, int64(0), after.Offset)
}

func Test_Binlog_Trim_RemovesOldSegmentsButKeepsActive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := fsutil.NewReal()

	bl, err := binlog.Open(dir, fs, binlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bl.Close() })

	require.NoError(t, bl.Rotate())
	require.NoError(t, bl.Rotate())

	active := bl.GetProducerStatus()

	require.NoError(t, bl.Trim(active.FileNum))

	exists, err := fs.Exists(dir)
	require.NoError(t, err)
	require.True(t, exists)

	entries, err := fs.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the active segment survives")
	require.Equal(t, fmt.Sprintf("binlog-%020d", active.FileNum), entries[0].Name())
}
