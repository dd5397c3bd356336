package jobqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func resetManager() {
	globalManager = nil
	managerOnce = sync.Once{}
}

func TestInitManager(t *testing.T) {
	resetManager()
	t.Cleanup(resetManager)

	assert.Nil(t, GetManager())

	q := NewQueue(nil, &fakeProcessor{}, 2)
	manager1 := InitManager(q, time.Hour)
	manager2 := InitManager(NewQueue(nil, &fakeProcessor{}, 4), time.Minute)

	assert.NotNil(t, manager1)
	assert.Same(t, manager1, manager2, "InitManager should return the first instance")
	assert.Same(t, manager1, GetManager())
	assert.Same(t, q, manager1.GetQueue())
	assert.Equal(t, time.Hour, manager1.catalogInterval)
	assert.False(t, manager1.running)
}

func TestManager_IsRunning(t *testing.T) {
	manager := NewManager(NewQueue(nil, &fakeProcessor{}, 1), 0)

	assert.False(t, manager.IsRunning())

	manager.mu.Lock()
	manager.running = true
	manager.mu.Unlock()
	assert.True(t, manager.IsRunning())

	manager.mu.Lock()
	manager.running = false
	manager.mu.Unlock()
	assert.False(t, manager.IsRunning())
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(NewQueue(nil, &fakeProcessor{}, 1), time.Hour)

	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}
