//go:build linux

package media

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/behrlich/zns-ztl/internal/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileDeviceMedia(t *testing.T) (*Media, *FileDevice) {
	t.Helper()
	geo := interfaces.Geometry{Groups: 1, ZonesPerGroup: 2, SectorsPerZone: 64, SectorSize: 512}
	dev, err := NewFileDevice(geo, 32)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ztl-filedev.img")
	m := New(dev, nil, nil)
	require.NoError(t, m.Register(context.Background(), path))
	return m, dev
}

func TestFileDeviceWriteReadRoundTrip(t *testing.T) {
	m, dev := newFileDeviceMedia(t)
	require.NoError(t, m.InitAsync(16))
	defer m.TermAsync()
	defer dev.Close()

	want := make([]byte, 8*512)
	_, err := rand.Read(want)
	require.NoError(t, err)

	writeCmd := &Cmd{Opcode: OpWrite, Group: 0, Zone: 0, Sector: 0, NSec: 8, Buf: want, Sync: true}
	require.NoError(t, m.SubmitIO(context.Background(), writeCmd))

	got := make([]byte, 8*512)
	readCmd := &Cmd{Opcode: OpRead, Group: 0, Zone: 0, Sector: 0, NSec: 8, Buf: got, Sync: true}
	require.NoError(t, m.SubmitIO(context.Background(), readCmd))

	assert.Equal(t, want, got)
}

func TestFileDeviceAppendAdvancesWritePointer(t *testing.T) {
	m, dev := newFileDeviceMedia(t)
	require.NoError(t, m.InitAsync(16))
	defer m.TermAsync()
	defer dev.Close()

	buf := make([]byte, 4*512)

	var wg1 sync.WaitGroup
	wg1.Add(1)
	var firstAssigned uint64
	cmd1 := &Cmd{
		Opcode: OpAppend, Group: 0, Zone: 1, NSec: 4, Buf: buf,
		Callback: func(c *Cmd) {
			defer wg1.Done()
			assert.NoError(t, c.Status)
			firstAssigned = c.PAddr
		},
	}
	require.NoError(t, m.SubmitIO(context.Background(), cmd1))
	waitOrTimeout(t, &wg1)

	var wg2 sync.WaitGroup
	wg2.Add(1)
	var secondAssigned uint64
	cmd2 := &Cmd{
		Opcode: OpAppend, Group: 0, Zone: 1, NSec: 4, Buf: buf,
		Callback: func(c *Cmd) {
			defer wg2.Done()
			assert.NoError(t, c.Status)
			secondAssigned = c.PAddr
		},
	}
	require.NoError(t, m.SubmitIO(context.Background(), cmd2))
	waitOrTimeout(t, &wg2)

	assert.Equal(t, uint64(0), firstAssigned)
	assert.Equal(t, uint64(4), secondAssigned, "second append must land after the first's 4 sectors")
}

func TestFileDeviceManageAndReportZone(t *testing.T) {
	m, dev := newFileDeviceMedia(t)
	require.NoError(t, m.InitAsync(16))
	defer m.TermAsync()
	defer dev.Close()

	_, err := m.SubmitZN(context.Background(), &Cmd{Group: 0, Zone: 0, ZoneOp: interfaces.OpZoneOpen})
	require.NoError(t, err)

	info, err := m.SubmitZN(context.Background(), &Cmd{Group: 0, Zone: 0, ZoneOp: interfaces.OpZoneReport})
	require.NoError(t, err)
	assert.Equal(t, interfaces.ZoneOpen, info.State)

	_, err = m.SubmitZN(context.Background(), &Cmd{Group: 0, Zone: 0, ZoneOp: interfaces.OpZoneReset})
	require.NoError(t, err)

	info, err = m.SubmitZN(context.Background(), &Cmd{Group: 0, Zone: 0, ZoneOp: interfaces.OpZoneReport})
	require.NoError(t, err)
	assert.Equal(t, interfaces.ZoneEmpty, info.State)
	assert.Equal(t, uint64(0), info.WP)
}
