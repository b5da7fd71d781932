package privdrop_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crypticterminal/ndhc/internal/privdrop"
)

func TestChroot_emptyDirIsNoop(t *testing.T) {
	t.Parallel()

	assert.NoError(t, privdrop.Chroot(""))
}

func TestSetGroup_unknownGroup(t *testing.T) {
	t.Parallel()

	err := privdrop.SetGroup("no-such-group-ndhc-test")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "looking up group")
}

func TestSetUser_unknownUser(t *testing.T) {
	t.Parallel()

	err := privdrop.SetUser("no-such-user-ndhc-test")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "looking up user")
}

func TestDrop_noopWhenAllEmpty(t *testing.T) {
	t.Parallel()

	assert.NoError(t, privdrop.Drop("", "", ""))
}

func TestDrop_stopsAtUnknownGroup(t *testing.T) {
	t.Parallel()

	err := privdrop.Drop("", "no-such-group-ndhc-test", "root")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "looking up group")
}
