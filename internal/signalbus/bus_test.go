package signalbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyOrderAndUnknownNoop(t *testing.T) {
	b := New()
	var order []int
	b.Register("reload", func() { order = append(order, 1) })
	b.Register("reload", func() { order = append(order, 2) })
	b.Register("reload", func() { order = append(order, 3) })

	b.Notify("reload")
	assert.Equal(t, []int{1, 2, 3}, order)

	b.Notify("unknown-event")
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	h := b.Register("shutdown", func() { calls++ })
	b.Notify("shutdown")
	assert.Equal(t, 1, calls)

	b.Unregister(h)
	b.Notify("shutdown")
	assert.Equal(t, 1, calls)
}

func TestRegisterDuringNotifyDeferred(t *testing.T) {
	b := New()
	var secondRan bool
	b.Register("x", func() {
		b.Register("x", func() { secondRan = true })
	})
	b.Notify("x")
	assert.False(t, secondRan, "registered-during-notify callback must not run in the same pass")
	b.Notify("x")
	assert.True(t, secondRan)
}
