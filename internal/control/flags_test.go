package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsIndependentBits(t *testing.T) {
	var f Flags
	assert.False(t, f.IsShutdown())
	assert.False(t, f.IsDisconnect())
	assert.False(t, f.IsNoPeer())

	f.SetDisconnect()
	assert.True(t, f.IsDisconnect())
	assert.False(t, f.IsShutdown())
	assert.False(t, f.IsNoPeer())
}

func TestPipeSignalSetsBothDisconnectAndNoPeer(t *testing.T) {
	var f Flags
	f.PipeSignal()
	assert.True(t, f.IsDisconnect())
	assert.True(t, f.IsNoPeer())
}

func TestAlarmSignalSetsOnlyDisconnect(t *testing.T) {
	var f Flags
	f.AlarmSignal()
	assert.True(t, f.IsDisconnect())
	assert.False(t, f.IsNoPeer())
}

func TestClearDisconnectLowersBothBits(t *testing.T) {
	var f Flags
	f.PipeSignal()
	f.ClearDisconnect()
	assert.False(t, f.IsDisconnect())
	assert.False(t, f.IsNoPeer())
}

func TestRequestShutdownTwoStep(t *testing.T) {
	var f Flags
	assert.False(t, f.RequestShutdown(), "first signal is graceful")
	assert.True(t, f.IsShutdown())
	assert.True(t, f.RequestShutdown(), "second signal forces immediate exit")
}
