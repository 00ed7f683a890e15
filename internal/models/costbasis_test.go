package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostBasis_UnknownIsNotZero(t *testing.T) {
	zero := Known(decimal.Zero)
	unknown := Unknown()

	assert.True(t, zero.IsKnown())
	assert.False(t, unknown.IsKnown())
	assert.False(t, zero.Equal(unknown))
	assert.True(t, unknown.Equal(Unknown()))
	assert.True(t, unknown.OrZero().IsZero())
	assert.Equal(t, "unknown", unknown.String())
}

func TestCostBasis_Value(t *testing.T) {
	v, err := Unknown().Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Known(decimal.RequireFromString("123.45")).Value()
	require.NoError(t, err)
	assert.Equal(t, "123.45", v)
}

func TestCostBasis_Scan(t *testing.T) {
	var c CostBasis
	require.NoError(t, c.Scan(nil))
	assert.False(t, c.IsKnown())

	require.NoError(t, c.Scan("42.5"))
	amount, ok := c.Amount()
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("42.5")))

	require.NoError(t, c.Scan([]byte("0")))
	assert.True(t, c.Equal(Known(decimal.Zero)))

	assert.Error(t, c.Scan("not-a-number"))
}

func TestLotBefore(t *testing.T) {
	a := Lot{ID: 2}
	b := Lot{ID: 1}
	assert.True(t, b.Before(a), "same timestamp falls back to id")

	b.Timestamp = a.Timestamp.Add(1)
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestCostBasis_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Known   CostBasis `json:"known"`
		Unknown CostBasis `json:"unknown"`
	}{Known(decimal.RequireFromString("12.5")), Unknown()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"known":"12.5","unknown":null}`, string(out))

	var decoded CostBasis
	require.NoError(t, json.Unmarshal([]byte("null"), &decoded))
	assert.False(t, decoded.IsKnown())
}
