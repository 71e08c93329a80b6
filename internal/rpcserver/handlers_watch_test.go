package rpcserver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/caid-tools/depi/internal/rpcapi"
)

// recordingServerStream is a minimal grpc.ServerStream fake that
// records every message sent through it, letting watch-handler tests
// run without a real network connection.
type recordingServerStream struct {
	mu   sync.Mutex
	sent []any
}

func (r *recordingServerStream) SetHeader(metadata.MD) error { return nil }
func (r *recordingServerStream) SendHeader(metadata.MD) error { return nil }
func (r *recordingServerStream) SetTrailer(metadata.MD)       {}
func (r *recordingServerStream) Context() context.Context    { return context.Background() }
func (r *recordingServerStream) RecvMsg(m any) error          { return nil }
func (r *recordingServerStream) SendMsg(m any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingServerStream) messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.sent))
	copy(out, r.sent)
	return out
}

func TestServer_WatchDepiStreamsUntilLogout(t *testing.T) {
	ctx := context.Background()
	srv, sessions := newTestServer(t, false)
	sid := loginAs(t, ctx, srv, "alice")

	// Mark the session as watching and publish the mutation before the
	// stream starts reading, so delivery doesn't race the goroutine
	// below: Push only needs the flag set and a buffered queue slot,
	// not an active Dequeue.
	sess, ok := sessions.Get(sid)
	require.True(t, ok)
	sess.SetWatchingDepi(true)

	_, err := srv.AddResourceGroup(ctx, &rpcapi.AddResourceGroupRequest{
		SessionID: sid, Group: rpcapi.ResourceGroup{ToolID: "git", URL: "repo1", Version: "v1"},
	})
	require.NoError(t, err)

	fake := &recordingServerStream{}
	stream := &rpcapi.Stream[rpcapi.WatchDepiResponse]{ServerStream: fake}

	done := make(chan error, 1)
	go func() {
		done <- srv.WatchDepi(&rpcapi.WatchDepiRequest{SessionID: sid}, stream)
	}()

	// Give WatchDepi a chance to drain the already-queued event before
	// tearing the session down.
	deadline := time.Now().Add(2 * time.Second)
	for len(fake.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	sessions.Logout(sid)

	err = <-done
	require.NoError(t, err, "WatchDepi must return cleanly once its queue is closed by logout")

	msgs := fake.messages()
	require.NotEmpty(t, msgs, "the AddResourceGroup mutation must have been published to the watching session before logout")
}

func TestServer_WatchDepiFailsFastOnUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, false)
	fake := &recordingServerStream{}
	stream := &rpcapi.Stream[rpcapi.WatchDepiResponse]{ServerStream: fake}

	err := srv.WatchDepi(&rpcapi.WatchDepiRequest{SessionID: "unknown"}, stream)
	require.NoError(t, err, "a failed lookup is reported via the Result payload, not a transport error")

	msgs := fake.messages()
	require.Len(t, msgs, 1)
	resp := msgs[0].(*rpcapi.WatchDepiResponse)
	assert.False(t, resp.Result.OK)
}

func TestServer_WatchResourceGroupMarksSessionWatching(t *testing.T) {
	ctx := context.Background()
	srv, sessions := newTestServer(t, false)
	sid := loginAs(t, ctx, srv, "alice")

	resp, err := srv.WatchResourceGroup(ctx, &rpcapi.WatchResourceGroupRequest{SessionID: sid, ToolID: "git", URL: "repo1"})
	require.NoError(t, err)
	assert.True(t, resp.Result.OK)

	subs := sessions.Sessions()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].WatchedGroup("git", "repo1"))

	_, err = srv.UnwatchResourceGroup(ctx, &rpcapi.UnwatchResourceGroupRequest{SessionID: sid, ToolID: "git", URL: "repo1"})
	require.NoError(t, err)
	assert.False(t, sessions.Sessions()[0].WatchedGroup("git", "repo1"))
}
