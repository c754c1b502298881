package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrRounding(t *testing.T) {
	tests := []struct {
		in       Addr
		down, up Addr
	}{
		{0, 0, 0},
		{1, 0, Size},
		{Size - 1, 0, Size},
		{Size, Size, Size},
		{Size + 1, Size, 2 * Size},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.down, tt.in.RoundDown(), "RoundDown(%v)", tt.in)
		up, ok := tt.in.RoundUp()
		assert.True(t, ok)
		assert.Equal(t, tt.up, up, "RoundUp(%v)", tt.in)
	}

	_, ok := Addr(^uint64(0)).RoundUp()
	assert.False(t, ok)
}

func TestLayout(t *testing.T) {
	assert.True(t, TopOfUserSpace.IsPageAligned())
	assert.Equal(t, Addr(1<<38), MaxVA)
	assert.Equal(t, MaxVA-2*Size, TrapFrame)
	assert.Less(t, TopOfUserSpace, Trampoline)
}

func TestRoundUpCount(t *testing.T) {
	n, ok := RoundUp(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(Size), n)
	assert.Equal(t, uint64(3), Count(2*Size+1))
	assert.Equal(t, uint64(0), Count(0))
}

func TestPermString(t *testing.T) {
	assert.Equal(t, "r--u", (Read | User).String())
	assert.Equal(t, "rwx-", RWX.String())
	assert.True(t, RWX.SupersetOf(Read|Write))
	assert.False(t, Read.Any(Write|Exec))
}
