package clientagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalZoneId(t *testing.T) {
	tests := []struct {
		name string
		zone uint32
		want uint32
	}{
		{"regular playground", 2000, 2000},
		{"regular street", 2205, 2205},
		{"instanced playground", 22000, 2000},
		{"instanced street", 22300, 2300},
		{"instanced speedway", 23500, 8500},
		{"second instance block", 24000, 2000},
		{"second instance speedway", 25100, 8100},
		{"past the valley", 61000, 61000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalZoneId(tt.zone))
		})
	}
}

func TestTrueZoneId(t *testing.T) {
	tests := []struct {
		name    string
		zone    uint32
		current uint32
		want    uint32
	}{
		{"outside the valley passes through", 2300, 2205, 2300},
		{"central maps into the block", 2300, 22000, 22300},
		{"speedway maps into the block", 8500, 22000, 23500},
		{"second block", 2300, 24100, 24300},
		{"already instanced passes through", 22300, 22000, 22300},
		{"unrelated hood passes through", 1100, 22000, 1100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trueZoneId(tt.zone, tt.current))
		})
	}
}

func TestExpandZones(t *testing.T) {
	c := &Client{agent: &Agent{visgroups: map[uint32][]uint32{
		2205: {2206, 2235},
	}}}

	zones := make(map[uint32]struct{})
	c.expandZones(zones, 2205)
	assert.Equal(t, map[uint32]struct{}{
		2205: {}, 2206: {}, 2235: {}, 2200: {},
	}, zones)
}

func TestExpandZonesInstanced(t *testing.T) {
	c := &Client{agent: &Agent{visgroups: map[uint32][]uint32{
		2205: {2206},
	}}}

	// 22205 mirrors street 2205; its neighbours come back instanced.
	zones := make(map[uint32]struct{})
	c.expandZones(zones, 22205)
	assert.Equal(t, map[uint32]struct{}{
		22205: {}, 22206: {}, 22200: {},
	}, zones)
}

func TestExpandZonesNoVisgroup(t *testing.T) {
	c := &Client{agent: &Agent{visgroups: map[uint32][]uint32{}}}

	zones := make(map[uint32]struct{})
	c.expandZones(zones, 7000)
	assert.Equal(t, map[uint32]struct{}{7000: {}}, zones)

	c.expandZones(zones, 1)
	assert.Equal(t, map[uint32]struct{}{7000: {}}, zones, "quiet zone is never expanded")
}
