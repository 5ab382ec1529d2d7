package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNames() Names {
	return Names{
		StoreToCentralTmpl:   "inventory.store.{storeId}.to-central",
		CentralToStoreTmpl:   "inventory.central.to-store.{storeId}",
		CentralBroadcastName: "inventory.central.broadcast",
		StoreToStoreTmpl:     "inventory.store.{fromStoreId}.to-store.{toStoreId}",
		StoreBroadcastTmpl:   "inventory.store.{storeId}.broadcast",
	}
}

func TestNames_Render(t *testing.T) {
	n := testNames()

	assert.Equal(t, "inventory.store.store-1.to-central", n.StoreToCentral("store-1"))
	assert.Equal(t, "inventory.central.to-store.store-1", n.CentralToStore("store-1"))
	assert.Equal(t, "inventory.central.broadcast", n.CentralBroadcast())
	assert.Equal(t, "inventory.store.a.to-store.b", n.StoreToStore("a", "b"))
	assert.Equal(t, "inventory.store.a.broadcast", n.StoreBroadcast("a"))
}

func TestNames_Inbound(t *testing.T) {
	n := testNames()

	assert.Equal(t, []string{
		"inventory.store.a.to-central",
		"inventory.store.b.to-central",
	}, n.CentralInbound([]string{"a", "b"}))

	assert.Equal(t, []string{
		"inventory.central.to-store.a",
		"inventory.store.a.to-store.a",
		"inventory.central.broadcast",
	}, n.StoreInbound("a"))
}

func TestRecord_FieldsRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 20, 30, 123456789, time.UTC)
	r := Record{ID: "01HX", CreatedAt: FormatTime(now), Type: "ECHO", Payload: `"hi"`}

	got := RecordFromFields(r.Fields())
	assert.Equal(t, r, got)

	parsed, err := ParseTime(got.CreatedAt)
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))
}

func TestRecordFromFields_Partial(t *testing.T) {
	got := RecordFromFields(map[string]string{FieldType: "ECHO"})
	assert.Equal(t, Record{Type: "ECHO"}, got)
}
