package id

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULIDUniqueAndValid(t *testing.T) {
	sf, err := NewSnowflake(1)
	require.NoError(t, err)
	g := NewGenerator(sf)

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := g.NewULID()
		assert.True(t, ValidateULID(id))
		assert.False(t, seen[id], "duplicate ULID %s", id)
		seen[id] = true
	}
}

func TestNewPrefixed(t *testing.T) {
	sf, err := NewSnowflake(1)
	require.NoError(t, err)
	g := NewGenerator(sf)

	id := g.NewPrefixed("rcp")
	assert.True(t, strings.HasPrefix(id, "RCP-"))

	id = g.NewPrefixed("")
	assert.True(t, strings.HasPrefix(id, "LGR-"))
}

func TestSnowflakeConcurrentUnique(t *testing.T) {
	sf, err := NewSnowflake(1)
	require.NoError(t, err)

	const workers = 8
	const perWorker = 200
	ids := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids[w] = append(ids[w], sf.Generate())
			}
		}(w)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, chunk := range ids {
		for _, id := range chunk {
			assert.False(t, seen[id], "duplicate snowflake %s", id)
			seen[id] = true
		}
	}
}

func TestNewSnowflakeRejectsBadNode(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = NewSnowflake(1 << 12)
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestValidateULID(t *testing.T) {
	assert.True(t, ValidateULID("01ARZ3NDEKTSV4RRFFQ69G5FAV"))
	assert.False(t, ValidateULID("not-a-ulid"))
	assert.False(t, ValidateULID(""))
}
