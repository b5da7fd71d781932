package iface_test

import (
	"testing"

	"github.com/crypticterminal/ndhc/internal/iface"
	"github.com/stretchr/testify/assert"
)

func TestListenMode_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", iface.ListenNone.String())
	assert.Equal(t, "raw", iface.ListenRaw.String())
	assert.Equal(t, "cooked", iface.ListenCooked.String())
}

func TestNewManager_startsWithNoSockets(t *testing.T) {
	t.Parallel()

	m := iface.NewManager(nil)
	assert.Equal(t, iface.ListenNone, m.ListenMode())
	assert.Nil(t, m.Listen())
	assert.Nil(t, m.ARP())
}

func TestManager_setListenNoneIsNoopWhenClosed(t *testing.T) {
	t.Parallel()

	m := iface.NewManager(nil)
	assert.NoError(t, m.SetListenNone())
	assert.NoError(t, m.CloseARP())
}
