package loop

import (
	"log/slog"
	"net"
	"syscall"
	"testing"

	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypticterminal/ndhc/internal/client"
	"github.com/crypticterminal/ndhc/internal/dhcpwire"
)

var testMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func newTestLoop(t *testing.T) (l *Loop) {
	t.Helper()

	cfg := &client.Config{
		Logger:        slog.Default(),
		InterfaceName: "eth0",
	}
	require.NoError(t, cfg.Validate())

	m := client.NewMachine(cfg, timeutil.SystemClock{}, testMAC, 1)

	return New(m, nil, nil, nil, slog.Default(), testMAC, "eth0")
}

func TestSignalEvent(t *testing.T) {
	t.Parallel()

	ev, ok := signalEvent(syscall.SIGUSR1)
	require.True(t, ok)
	assert.Equal(t, client.EventForceRenew, ev)

	ev, ok = signalEvent(syscall.SIGUSR2)
	require.True(t, ok)
	assert.Equal(t, client.EventForceRelease, ev)

	_, ok = signalEvent(syscall.SIGHUP)
	assert.False(t, ok)
}

func TestForUs(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t)

	reply := dhcpwire.NewHeader(l.Machine.State.Xid, testMAC)
	reply.Op = dhcpwire.OpBootReply
	assert.True(t, l.forUs(reply))

	wrongXid := dhcpwire.NewHeader(l.Machine.State.Xid+1, testMAC)
	wrongXid.Op = dhcpwire.OpBootReply
	assert.False(t, l.forUs(wrongXid))

	wrongMAC := dhcpwire.NewHeader(l.Machine.State.Xid, net.HardwareAddr{6, 5, 4, 3, 2, 1})
	wrongMAC.Op = dhcpwire.OpBootReply
	assert.False(t, l.forUs(wrongMAC))

	request := dhcpwire.NewHeader(l.Machine.State.Xid, testMAC)
	assert.False(t, l.forUs(request), "requests echoed back are not replies")
}
