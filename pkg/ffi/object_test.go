package ffi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeObject(dropped *int) Object {
	id := uuid.New()
	return Object{
		Data: "payload",
		VTable: &VTableHead{
			ObjectUUID:    id,
			ObjectName:    "TestObject",
			InterfaceName: "test::Interface",
			Drop:          func(unsafeData) { *dropped++ },
		},
	}
}

func TestObjBoxDropsOnClose(t *testing.T) {
	var dropped int
	b := NewObjBox(makeObject(&dropped))

	obj, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, "payload", obj.Data)

	b.Close()
	assert.Equal(t, 1, dropped)

	_, err = b.Get()
	require.Error(t, err)

	b.Close() // idempotent
	assert.Equal(t, 1, dropped)
}

func TestDowncastChecksUUID(t *testing.T) {
	var dropped int
	obj := makeObject(&dropped)

	_, ok := obj.Downcast(obj.VTable.ObjectUUID)
	assert.True(t, ok)

	_, ok = obj.Downcast(uuid.New())
	assert.False(t, ok)
}

func TestObjArcDropsOnLastRelease(t *testing.T) {
	var dropped int
	a := NewObjArc(makeObject(&dropped))
	b := a.Clone()

	a.Release()
	assert.Equal(t, 0, dropped, "one strong ref remains")

	_, err := b.Get()
	require.NoError(t, err)

	b.Release()
	assert.Equal(t, 1, dropped)
}

func TestWeakUpgradeFailsAfterDrop(t *testing.T) {
	var dropped int
	a := NewObjArc(makeObject(&dropped))
	w := a.Downgrade()

	strong, ok := w.Upgrade()
	require.True(t, ok)
	strong.Release()

	a.Release()
	assert.Equal(t, 1, dropped)

	_, ok = w.Upgrade()
	assert.False(t, ok)
}
