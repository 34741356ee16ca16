package replwire_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/replwire"
)

func Test_BinlogSyncRequest_RoundTrips_ThroughFrame(t *testing.T) {
	t.Parallel()

	want := replwire.BinlogSyncRequest{
		SessionID: 42,
		DBName:    "db0",
		Offset:    replwire.BinlogOffset{FileNum: 3, Offset: 128, Term: 1, Index: 9},
		Binlog:    []byte("set foo bar"),
	}

	var buf bytes.Buffer
	require.NoError(t, replwire.WriteFrame(&buf, replwire.TypeBinlogSyncRequest, want.Encode()))

	msgType, payload, err := replwire.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, replwire.TypeBinlogSyncRequest, msgType)

	got, err := replwire.DecodeBinlogSyncRequest(payload)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want, got))
	require.False(t, got.IsKeepalive())
}

func Test_BinlogSyncRequest_EmptyBinlog_IsKeepalive(t *testing.T) {
	t.Parallel()

	r := replwire.BinlogSyncRequest{SessionID: 1, DBName: "db0"}
	require.True(t, r.IsKeepalive())

	got, err := replwire.DecodeBinlogSyncRequest(r.Encode())
	require.NoError(t, err)
	require.True(t, got.IsKeepalive())
}

func Test_TrySyncResponse_RoundTrips(t *testing.T) {
	t.Parallel()

	want := replwire.TrySyncResponse{Code: replwire.TrySyncNeedDBSync, SessionID: 7}

	got, err := replwire.DecodeTrySyncResponse(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func Test_BinlogAck_RoundTrips(t *testing.T) {
	t.Parallel()

	want := replwire.BinlogAck{
		SessionID: 3,
		DBName:    "db1",
		Start:     replwire.BinlogOffset{FileNum: 1, Offset: 0},
		End:       replwire.BinlogOffset{FileNum: 1, Offset: 4096},
	}

	got, err := replwire.DecodeBinlogAck(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func Test_ReadFrame_RejectsOversizedLength(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})

	_, _, err := replwire.ReadFrame(bufio.NewReader(&buf))
	require.Error(t, err)
}

func Test_MetaSyncResponse_RoundTrips(t *testing.T) {
	t.Parallel()

	want := replwire.MetaSyncResponse{ClassicMode: true, ReplicationID: "repl-123"}

	got, err := replwire.DecodeMetaSyncResponse(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}
