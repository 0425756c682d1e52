package unwind

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextSetGet(t *testing.T) {
	sc := NewContext()
	sc.Set("order_id", "order-123")
	sc.Set("amount", 99.95)
	sc.Set("quantity", 3)
	sc.Set("express", true)

	v, ok := sc.Get("order_id")
	require.True(t, ok)
	assert.Equal(t, "order-123", v)

	_, ok = sc.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, "order-123", sc.GetString("order_id"))
	assert.Equal(t, 99.95, sc.GetFloat64("amount"))
	assert.Equal(t, 3, sc.GetInt("quantity"))
	assert.True(t, sc.GetBool("express"))

	// Typed getters return zero values on absence or type mismatch.
	assert.Empty(t, sc.GetString("missing"))
	assert.Zero(t, sc.GetInt("order_id"))
	assert.False(t, sc.GetBool("amount"))
}

func TestContextOverwrite(t *testing.T) {
	sc := NewContext()
	sc.Set("status", "reserved")
	sc.Set("status", "charged")
	assert.Equal(t, "charged", sc.GetString("status"))
	assert.Equal(t, 1, sc.Len())
}

func TestContextKeysSorted(t *testing.T) {
	sc := NewContext()
	sc.Set("zebra", 1)
	sc.Set("apple", 2)
	sc.Set("mango", 3)
	assert.Equal(t, []string{"apple", "mango", "zebra"}, sc.Keys())
}

func TestContextSnapshotRestore(t *testing.T) {
	sc := NewContext()
	sc.Set("order_id", "order-123")
	sc.Set("amount", 99.95)

	data, err := sc.Snapshot()
	require.NoError(t, err)

	restored := NewContext()
	require.NoError(t, restored.restore(data))
	assert.Equal(t, "order-123", restored.GetString("order_id"))
	assert.Equal(t, 99.95, restored.GetFloat64("amount"))
	assert.Equal(t, 2, restored.Len())
}

func TestContextConcurrentAccess(t *testing.T) {
	sc := NewContext()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%8))
			sc.Set(key, i)
			sc.Get(key)
			sc.Keys()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, sc.Len())
}
