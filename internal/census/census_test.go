package census_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/census"
)

func TestCensus_SameViewerTwoConsumers(t *testing.T) {
	c := census.New()

	c.AddViewer("cam1", "10.0.0.5", "cons-1")
	c.AddViewer("cam1", "10.0.0.5", "cons-2")

	assert.Equal(t, 1, c.CountOf("cam1"))
	assert.Equal(t, map[string]int{"cam1": 1}, c.Snapshot())

	assert.True(t, c.RemoveByConsumer("cons-1"))
	assert.Equal(t, []string{"10.0.0.5"}, c.ViewersOf("cam1"))
	assert.Equal(t, 1, c.CountOf("cam1"), "one consumer still open")

	assert.True(t, c.RemoveByConsumer("cons-2"))
	assert.Empty(t, c.ViewersOf("cam1"))
	assert.Equal(t, 0, c.CountOf("cam1"))
	assert.NotContains(t, c.Snapshot(), "cam1")
}

func TestCensus_RemoveByConsumerIsIdempotent(t *testing.T) {
	c := census.New()
	c.AddViewer("cam1", "a", "cons-1")
	c.AddViewer("cam1", "b", "cons-2")

	assert.True(t, c.RemoveByConsumer("cons-1"))
	assert.False(t, c.RemoveByConsumer("cons-1"))
	assert.False(t, c.RemoveByConsumer("never-seen"))

	assert.Equal(t, []string{"b"}, c.ViewersOf("cam1"))
}

func TestCensus_IgnoresEmptyIdentities(t *testing.T) {
	c := census.New()
	c.AddViewer("cam1", "", "cons-1")
	c.AddViewer("", "a", "cons-2")

	assert.Empty(t, c.Snapshot())
	assert.False(t, c.RemoveByConsumer("cons-1"))
}

func TestCensus_DuplicateConsumerCountedOnce(t *testing.T) {
	c := census.New()
	c.AddViewer("cam1", "a", "cons-1")
	c.AddViewer("cam1", "a", "cons-1")

	assert.Equal(t, 1, c.CountOf("cam1"))
	assert.True(t, c.RemoveByConsumer("cons-1"))
	assert.Equal(t, 0, c.CountOf("cam1"))
}

func TestCensus_RemoveCameraDropsIndexRows(t *testing.T) {
	c := census.New()
	c.AddViewer("cam1", "a", "cons-1")
	c.AddViewer("cam2", "a", "cons-2")

	c.RemoveCamera("cam1")

	assert.Equal(t, 0, c.CountOf("cam1"))
	assert.False(t, c.RemoveByConsumer("cons-1"))
	assert.Equal(t, map[string]int{"cam2": 1}, c.Snapshot())
}

func TestCensus_ConcurrentAddRemove(t *testing.T) {
	c := census.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("cons-%d", i)
			viewer := fmt.Sprintf("v%d", i%5)
			c.AddViewer("cam1", viewer, id)
			c.RemoveByConsumer(id)
			c.RemoveByConsumer(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, c.CountOf("cam1"))
	assert.Empty(t, c.Snapshot())
}
