package concurrency

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("dana@example.com/2025-01-15")
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			m.Unlock("dana@example.com/2025-01-15")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	m.Lock("a")

	done := make(chan struct{})
	go func() {
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
	m.Unlock("a")
}

func TestSupervisedReportsErrorAndPanic(t *testing.T) {
	boom := errors.New("boom")
	assert.ErrorIs(t, Go(func() error { return boom }).Wait(), boom)

	err := Go(func() error { panic("bad") }).Wait()
	assert.ErrorContains(t, err, "panic: bad")

	assert.NoError(t, Go(func() error { return nil }).Wait())
}
