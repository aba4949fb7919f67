package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("chan-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
}

func TestKeyedMutexIndependentKeysAndIdempotentUnlock(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	unlockA()
	unlockA()
	assert.Equal(t, 1, k.size())

	again := k.Lock("a")
	again()
	unlockB()
	assert.Zero(t, k.size())
}
