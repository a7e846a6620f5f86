package login

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateTriggersOnceUnderContention(t *testing.T) {
	browser := &fakeBrowser{origin: "https://wallet.test", artifacts: true}
	nav := &recordingNavigator{}
	gate := NewGate(browser, nav, nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.TriggerOnce() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, []string{DashboardPath}, nav.visited())
	assert.Equal(t, 1, browser.replaceCount())
	assert.True(t, gate.Triggered())
}

func TestGateLeavesCleanAddressAlone(t *testing.T) {
	browser := &fakeBrowser{origin: "https://wallet.test"}
	nav := &recordingNavigator{}
	gate := NewGate(browser, nav, nil)

	require.True(t, gate.TriggerOnce())
	require.False(t, gate.TriggerOnce())

	assert.Zero(t, browser.replaceCount())
	assert.Equal(t, []string{DashboardPath}, nav.visited())
}

func TestGateWithoutCollaborators(t *testing.T) {
	gate := NewGate(nil, nil, nil)
	assert.True(t, gate.TriggerOnce())
	assert.False(t, gate.TriggerOnce())
}
