package faq

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIDLocksSerializeSameID(t *testing.T) {
	locks := newIDLocks()
	id := uuid.New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(id)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	require.Zero(t, locks.size())
}

func TestIDLocksDistinctIDsDoNotBlock(t *testing.T) {
	locks := newIDLocks()
	unlockA := locks.Lock(uuid.New())
	unlockB := locks.Lock(uuid.New())
	require.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	require.Zero(t, locks.size())
}
