package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biped/internal/hardware/comm"
)

func TestBoardRequiresConnect(t *testing.T) {
	b := NewBoard()
	b.AddServo(1, 512)

	_, err := b.ReadRaw(context.Background(), 1)
	assert.ErrorIs(t, err, comm.ErrLinkDown)
}

func TestBoardReadWrite(t *testing.T) {
	b := NewBoard()
	b.AddServo(1, 512)
	b.AddServo(2, 400)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	raw, err := b.ReadRaw(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 400, raw)

	require.NoError(t, b.WriteRaw(ctx, 1, 600))
	assert.Equal(t, 600, b.Raw(1))
	assert.Equal(t, 1, b.Writes(1))
	assert.Equal(t, 1, b.Reads(2))

	require.NoError(t, b.SetTorque(ctx, 1, true))
	assert.True(t, b.Torque(1))
	assert.False(t, b.Torque(2))

	_, err = b.ReadRaw(ctx, 9)
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, b.IDs())
}

func TestBoardFailureInjection(t *testing.T) {
	b := NewBoard()
	b.AddServo(3, 512)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	busErr := errors.New("bus error")
	b.FailWrites(3, busErr)
	assert.ErrorIs(t, b.WriteRaw(ctx, 3, 100), busErr)
	assert.Equal(t, 512, b.Raw(3))
	assert.Equal(t, 1, b.Writes(3))

	b.FailWrites(3, nil)
	require.NoError(t, b.WriteRaw(ctx, 3, 100))
	assert.Equal(t, 100, b.Raw(3))

	b.FailReads(3, busErr)
	_, err := b.ReadRaw(ctx, 3)
	assert.ErrorIs(t, err, busErr)

	b.ResetCounters()
	assert.Zero(t, b.Reads(3))
	assert.Zero(t, b.Writes(3))
}
