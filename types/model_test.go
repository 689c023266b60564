package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastEpochRoundTrip(t *testing.T) {
	be := NewBroadcastEpoch("B1", 100, 109, []string{"0xAbC", "0xDEF"})
	require.NoError(t, be.Validate())

	raw, err := json.Marshal(be)
	require.NoError(t, err)

	var got BroadcastEpoch
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, be.BroadcastID, got.BroadcastID)
	require.True(t, got.Contracts.Contains("0xabc"))
	require.True(t, got.Contracts.Contains("0xdef"))
}

func TestWorkUnitValidate(t *testing.T) {
	w := NewWorkUnit("B1", Epoch{Begin: 10, End: 5}, "0xAbC")
	require.Error(t, w.Validate())

	w2 := NewWorkUnit("B1", Epoch{Begin: 5, End: 10}, "0xAbC")
	require.NoError(t, w2.Validate())
	require.Equal(t, "0xabc", w2.Contract)
}

func TestBigUintScaled(t *testing.T) {
	b := BigUintFromUint64(1_000_000)
	require.InDelta(t, 1.0, b.Scaled(6), 1e-9)
}

func TestBlockKey(t *testing.T) {
	require.Equal(t, "block109", BlockKey(109))
}

func TestPipelineErrorIs(t *testing.T) {
	err := NewTransport("boom", nil)
	require.True(t, errors.Is(err, ErrTransport))
	require.False(t, errors.Is(err, ErrValidation))
}
