package pricemodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModel_NextRespectsFloorAndTickMoveCap(t *testing.T) {
	m := New(42)

	price := m.Next(Inputs{
		Symbol:        "AAPL",
		PreviousPrice: 100,
		Volatility:    5.0, // deliberately large to try to blow through the cap
		FloorPrice:    0.01,
		MaxTickMove:   0.05,
	})

	assert.GreaterOrEqual(t, price, 0.01)
	logReturn := math.Log(price / 100)
	assert.LessOrEqual(t, math.Abs(logReturn), 0.05+1e-9)
}

func TestModel_NextNeverBelowFloor(t *testing.T) {
	m := New(7)

	price := m.Next(Inputs{
		Symbol:        "PENNY",
		PreviousPrice: 0.02,
		Volatility:    0.01,
		AgentPressureBeta: 1,
		NetSignedQuantity: -1000000,
		FloorPrice:    0.01,
		MaxTickMove:   10, // effectively uncapped, to isolate the floor behavior
	})

	assert.GreaterOrEqual(t, price, 0.01)
}

func TestModel_CachedPriceReflectsLastComputed(t *testing.T) {
	m := New(1)
	_, ok := m.CachedPrice("AAPL")
	assert.False(t, ok)

	price := m.Next(Inputs{Symbol: "AAPL", PreviousPrice: 50, FloorPrice: 0.01, MaxTickMove: 1})
	cached, ok := m.CachedPrice("AAPL")
	assert.True(t, ok)
	assert.Equal(t, price, cached)
}

func TestModel_EventImpactContributesToLogReturn(t *testing.T) {
	m := New(99)

	base := m.Next(Inputs{Symbol: "AAPL", PreviousPrice: 100, FloorPrice: 0.01, MaxTickMove: 1})

	m2 := New(99)
	withEvent := m2.Next(Inputs{
		Symbol:        "AAPL",
		PreviousPrice: 100,
		FloorPrice:    0.01,
		MaxTickMove:   1,
		ActiveEvents: []EventImpact{
			{Symbol: "AAPL", Magnitude: 0.3, RemainingTick: 5, TotalTicks: 5},
		},
	})

	assert.Greater(t, withEvent, base, "a positive event impact should push price above the no-event baseline")
}
