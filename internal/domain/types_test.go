package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSlotOther(t *testing.T) {
	assert.Equal(t, StatsSlotB, StatsSlotA.Other())
	assert.Equal(t, StatsSlotA, StatsSlotB.Other())
}

func TestStatsSlotValid(t *testing.T) {
	assert.True(t, StatsSlotA.Valid())
	assert.True(t, StatsSlotB.Valid())
	assert.False(t, StatsSlot("c").Valid())
	assert.False(t, StatsSlot("").Valid())
}
