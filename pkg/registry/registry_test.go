package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fimoengine/fimo/internal/ferr"
	"github.com/fimoengine/fimo/pkg/manifest"
	"github.com/fimoengine/fimo/pkg/version"
)

func TestRegisterLoaderAndLookup(t *testing.T) {
	r := New()
	h, err := r.RegisterLoader("native", "loaderImpl")
	require.NoError(t, err)

	id, loader, err := r.LoaderFromType("native")
	require.NoError(t, err)
	assert.Equal(t, h.ID(), id)
	assert.Equal(t, "loaderImpl", loader)

	require.NoError(t, h.Close())
	_, _, err = r.LoaderFromType("native")
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeUnknownLoaderType))
}

func TestRegisterLoaderDuplicateType(t *testing.T) {
	r := New()
	_, err := r.RegisterLoader("native", "a")
	require.NoError(t, err)

	_, err = r.RegisterLoader("native", "b")
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeDuplicateLoaderType))
}

func TestLoaderHandleCloseIsIdempotent(t *testing.T) {
	r := New()
	h, err := r.RegisterLoader("native", "a")
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestLoaderCallbackFiresOnRegisterAndUnregister(t *testing.T) {
	r := New()
	var events []bool
	cbh, err := r.RegisterLoaderCallback("native", func(id LoaderID, loaderType string, registered bool) {
		events = append(events, registered)
	})
	require.NoError(t, err)
	defer cbh.Close()

	lh, err := r.RegisterLoader("native", "a")
	require.NoError(t, err)
	require.NoError(t, lh.Close())

	assert.Equal(t, []bool{true, false}, events)
}

func TestLoaderCallbackFiresForAlreadyRegistered(t *testing.T) {
	r := New()
	_, err := r.RegisterLoader("native", "a")
	require.NoError(t, err)

	var saw bool
	_, err = r.RegisterLoaderCallback("native", func(id LoaderID, loaderType string, registered bool) {
		saw = registered
	})
	require.NoError(t, err)
	assert.True(t, saw)
}

func TestRegisterInterfaceAndLookup(t *testing.T) {
	r := New()
	desc := manifest.NewInterfaceDescriptor("fimo::iface", version.NewShort(1, 0, 0))
	h, err := r.RegisterInterface(desc, "impl")
	require.NoError(t, err)

	id, val, err := r.InterfaceFromDescriptor(desc)
	require.NoError(t, err)
	assert.Equal(t, h.ID(), id)
	assert.Equal(t, "impl", val)

	require.NoError(t, h.Close())
	_, _, err = r.InterfaceFromDescriptor(desc)
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeUnknownInterface))
}

func TestRegisterInterfaceDuplicate(t *testing.T) {
	r := New()
	desc := manifest.NewInterfaceDescriptor("fimo::iface", version.NewShort(1, 0, 0))
	_, err := r.RegisterInterface(desc, "a")
	require.NoError(t, err)

	_, err = r.RegisterInterface(desc, "b")
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeDuplicateInterface))
}

func TestCompatibleDescriptors(t *testing.T) {
	r := New()
	v0_1 := version.NewShort(0, 1, 0)
	v0_2 := version.NewShort(0, 2, 0)
	v1_0 := version.NewShort(1, 0, 0)

	d01 := manifest.NewInterfaceDescriptor("fimo::iface", v0_1)
	_, err := r.RegisterInterface(d01, "impl-0.1")
	require.NoError(t, err)

	// Same name, different major before 1.0: no overlap in either
	// direction, so it's not considered the same interface.
	got := r.CompatibleDescriptors(manifest.NewInterfaceDescriptor("fimo::iface", v1_0))
	assert.Empty(t, got)

	// Before 1.0, a minor bump is also a breaking change.
	got = r.CompatibleDescriptors(manifest.NewInterfaceDescriptor("fimo::iface", v0_2))
	assert.Empty(t, got)

	// Same major.minor.patch matches.
	got = r.CompatibleDescriptors(manifest.NewInterfaceDescriptor("fimo::iface", v0_1))
	require.Len(t, got, 1)
}

func TestCompatibleDescriptorsExtensionSuperset(t *testing.T) {
	r := New()
	v1 := version.NewShort(1, 0, 0)

	withExt := manifest.NewInterfaceDescriptor("fimo::iface", v1, "ext1")
	_, err := r.RegisterInterface(withExt, "impl")
	require.NoError(t, err)

	// A registered descriptor whose extensions are a superset of the
	// request (including the trivial empty request) must match.
	got := r.CompatibleDescriptors(manifest.NewInterfaceDescriptor("fimo::iface", v1))
	require.Len(t, got, 1)

	got = r.CompatibleDescriptors(manifest.NewInterfaceDescriptor("fimo::iface", v1, "ext1"))
	require.Len(t, got, 1)

	// A request for an extension the registered descriptor doesn't
	// carry must not match.
	got = r.CompatibleDescriptors(manifest.NewInterfaceDescriptor("fimo::iface", v1, "ext1", "ext2"))
	assert.Empty(t, got)
}

func TestUnregisterUnknownIsNotFoundClass(t *testing.T) {
	r := New()
	err := r.unregisterLoader(LoaderID(999))
	require.Error(t, err)
	assert.True(t, ferr.IsUnknownOrNotFound(err))
}
