package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/lightswarm/internal/collector"
	"github.com/iggydv12/lightswarm/internal/collector/store"
)

func setupStore(t *testing.T) *store.PebbleStore {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s, err := store.Open(filepath.Join(t.TempDir(), "snapshots"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHistoryNewestFirst(t *testing.T) {
	s := setupStore(t)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(collector.Report{
			Sender:   uint8(10 + i),
			Received: base.Add(time.Duration(i) * time.Second),
			Raw:      " 0,1,28,700,PR,10 ",
		}))
	}

	got, err := s.History(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint8(14), got[0].Sender)
	assert.Equal(t, uint8(13), got[1].Sender)
	assert.Equal(t, uint8(12), got[2].Sender)

	all, err := s.History(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestAppendSameInstantKeepsBoth(t *testing.T) {
	s := setupStore(t)
	at := time.Unix(1700000000, 42)
	require.NoError(t, s.Append(collector.Report{Sender: 1, Received: at}))
	require.NoError(t, s.Append(collector.Report{Sender: 2, Received: at}))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.History(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got[0].Sender)
}

func TestHistoryEmpty(t *testing.T) {
	s := setupStore(t)
	got, err := s.History(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
