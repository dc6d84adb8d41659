package errsink

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_AddAndEntries(t *testing.T) {
	c := New(10)

	c.Add("image_editor", "123_456", "Error editing image. 404")
	c.Add("image_editor_save", "Error saving edited image.", "/media/123_456-0-150.jpg")

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "image_editor", entries[0].Kind)
	assert.Equal(t, []string{"123_456", "Error editing image. 404"}, entries[0].Details)
	assert.False(t, entries[0].At.IsZero())
	assert.Equal(t, map[string]int{"image_editor": 1, "image_editor_save": 1}, c.Kinds())
}

func TestCollector_EvictsOldest(t *testing.T) {
	c := New(3)

	for i := 0; i < 5; i++ {
		c.Add("kind", fmt.Sprint(i))
	}

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "2", entries[0].Details[0])
	assert.Equal(t, "4", entries[2].Details[0])
}

func TestCollector_EntriesIsACopy(t *testing.T) {
	c := New(0)
	details := []string{"original"}
	c.Add("kind", details...)
	details[0] = "mutated"

	entries := c.Entries()
	entries[0].Kind = "changed"

	again := c.Entries()
	assert.Equal(t, "kind", again[0].Kind)
	assert.Equal(t, "original", again[0].Details[0])
}

func TestCollector_Clear(t *testing.T) {
	c := New(0)
	c.Add("kind")
	c.Clear()

	assert.Empty(t, c.Entries())
}

func TestCollector_ConcurrentAdd(t *testing.T) {
	c := New(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c.Add("kind", fmt.Sprintf("%d-%d", i, j))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c.Entries(), 500)
}
