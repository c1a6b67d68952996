package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIDIsUniqueAndOrdered(t *testing.T) {
	Init(1)

	const n = 10000
	seen := make(map[int64]struct{}, n)
	prev := int64(0)
	for i := 0; i < n; i++ {
		id := NextID()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
		assert.Greater(t, id, prev, "ids must be monotonic")
		prev = id
	}
}

func TestNextIDUnderConcurrency(t *testing.T) {
	Init(1)

	const workers = 8
	const perWorker = 1000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, NextID())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestExternalIDFormats(t *testing.T) {
	chargeID := GenerateChargeExternalID()
	assert.True(t, strings.HasPrefix(chargeID, "CH"))
	assert.Len(t, chargeID, 2+14+8)

	refundID := GenerateRefundExternalID()
	assert.True(t, strings.HasPrefix(refundID, "RF"))
	assert.Len(t, refundID, 2+14+8)

	assert.NotEqual(t, chargeID, refundID)
}
