package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownBlocksAndReportsRemaining(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	cd := NewCooldown().WithClock(func() time.Time { return now })

	ok, retry := cd.Admit("price_alert", 60_000)
	assert.True(t, ok)
	assert.Zero(t, retry)

	// Second event of the same type 10s later: blocked with 50s left.
	now = now.Add(10 * time.Second)
	ok, retry = cd.Admit("price_alert", 60_000)
	assert.False(t, ok)
	assert.Equal(t, int64(50_000), retry)

	// A different type is unaffected.
	ok, retry = cd.Admit("volume_spike", 60_000)
	assert.True(t, ok)
	assert.Zero(t, retry)

	// Exactly at the boundary the event is admitted.
	now = now.Add(50 * time.Second)
	ok, _ = cd.Admit("price_alert", 60_000)
	assert.True(t, ok)
}

func TestCooldownZeroAlwaysAdmits(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	cd := NewCooldown().WithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		ok, _ := cd.Admit("price_alert", 0)
		assert.True(t, ok)
	}
}

func TestCooldownRecordsAdmissionTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	cd := NewCooldown().WithClock(func() time.Time { return now })

	_, seen := cd.LastAdmitted("price_alert")
	assert.False(t, seen)

	cd.Admit("price_alert", 1000)
	ts, seen := cd.LastAdmitted("price_alert")
	assert.True(t, seen)
	assert.Equal(t, now.UnixMilli(), ts)
}
