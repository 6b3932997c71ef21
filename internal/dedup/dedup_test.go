package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evmwatch/evmwatch/internal/model"
)

func TestAddIfAbsent(t *testing.T) {
	s := New(time.Minute)
	h := model.Hash("0xabc")

	assert.True(t, s.AddIfAbsent(h), "first insert admits")
	assert.False(t, s.AddIfAbsent(h), "second insert is a duplicate")
	assert.True(t, s.Contains(h))
}

func TestAddIfAbsentExpires(t *testing.T) {
	s := New(time.Minute)
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	h := model.Hash("0xabc")
	assert.True(t, s.AddIfAbsent(h))

	s.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	assert.False(t, s.Contains(h), "entry should be treated as expired")
	assert.True(t, s.AddIfAbsent(h), "expired entry can be re-admitted")
}

func TestNoRetentionNeverExpires(t *testing.T) {
	s := New(0)
	h := model.Hash("0xabc")
	fixed := time.Now()
	s.now = func() time.Time { return fixed }
	require := assert.New(t)
	require.True(s.AddIfAbsent(h))

	s.now = func() time.Time { return fixed.Add(24 * time.Hour) }
	require.True(s.Contains(h))
}
