package login

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap(t *testing.T) {
	tests := []struct {
		name      string
		session   *Session
		err       error
		panicWith any
		wantFound bool
		wantNav   int
	}{
		{name: "session present", session: signedInSession(), wantFound: true, wantNav: 1},
		{name: "no session"},
		{name: "query fails", err: errors.New("network down")},
		{name: "query fails with stale session", session: signedInSession(), err: errors.New("refresh failed")},
		{name: "client panics", panicWith: "boom"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			client.session, client.sessionErr, client.panicWith = tc.session, tc.err, tc.panicWith
			nav := &recordingNavigator{}
			gate := NewGate(&fakeBrowser{}, nav, nil)

			found := Bootstrap(context.Background(), client, gate, nil)

			assert.Equal(t, tc.wantFound, found)
			assert.Len(t, nav.visited(), tc.wantNav)
		})
	}
}

func TestBootstrapAfterTeardownDoesNotNavigate(t *testing.T) {
	client := newFakeClient()
	client.session = signedInSession()
	nav := &recordingNavigator{}
	gate := NewGate(&fakeBrowser{}, nav, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, Bootstrap(ctx, client, gate, nil))
	assert.Empty(t, nav.visited())
}

func TestSubscriberNavigatesOnSignIn(t *testing.T) {
	client := newFakeClient()
	nav := &recordingNavigator{}
	sub := NewSubscriber(client, NewGate(&fakeBrowser{}, nav, nil), nil)
	sub.Start()
	defer sub.Stop()

	client.emit(Event{Kind: EventUserUpdated, Session: signedInSession()})
	client.emit(Event{Kind: EventSignedOut})
	client.emit(Event{Kind: EventSignedIn})
	require.Empty(t, nav.visited())

	client.emit(Event{Kind: EventSignedIn, Session: signedInSession()})
	client.emit(Event{Kind: EventSignedIn, Session: signedInSession()})
	assert.Equal(t, []string{DashboardPath}, nav.visited())
}

func TestSubscriberStopReleasesSubscription(t *testing.T) {
	client := newFakeClient()
	sub := NewSubscriber(client, NewGate(&fakeBrowser{}, &recordingNavigator{}, nil), nil)

	sub.Start()
	sub.Start()
	require.Equal(t, 1, client.listenerCount())

	sub.Stop()
	sub.Stop()
	assert.Zero(t, client.listenerCount())

	sub.Start()
	assert.Zero(t, client.listenerCount())
}

func TestSubscriberIgnoresLateDeliveries(t *testing.T) {
	client := newFakeClient()
	client.ignoreUnsubscribe = true
	nav := &recordingNavigator{}
	sub := NewSubscriber(client, NewGate(&fakeBrowser{}, nav, nil), nil)

	sub.Start()
	sub.Stop()
	client.emit(Event{Kind: EventSignedIn, Session: signedInSession()})

	assert.Empty(t, nav.visited())
}

type eagerClient struct {
	*fakeClient
}

func (c eagerClient) OnAuthStateChange(fn func(Event)) Subscription {
	sub := c.fakeClient.OnAuthStateChange(fn)
	fn(Event{Kind: EventSignedIn, Session: signedInSession()})
	return sub
}

func TestSubscriberHandlesSynchronousDelivery(t *testing.T) {
	client := eagerClient{newFakeClient()}
	nav := &recordingNavigator{}
	sub := NewSubscriber(client, NewGate(&fakeBrowser{}, nav, nil), nil)

	sub.Start()
	defer sub.Stop()

	assert.Equal(t, []string{DashboardPath}, nav.visited())
}
