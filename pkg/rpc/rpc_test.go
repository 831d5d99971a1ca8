package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// loopback routes client requests straight into a server's Dispatch.
type loopback struct{ srv *Server }

func (l loopback) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	return &nats.Msg{Subject: subj, Data: l.srv.Dispatch(ctx, data)}, nil
}

type echoArgs struct {
	Name string `json:"name"`
}

func newTestServer() *Server {
	srv := NewServer("collector", logging.NewTestLogger())
	srv.Register("echo", func(ctx context.Context, rc models.RequestContext, args json.RawMessage) (any, error) {
		in, err := DecodeArgs[echoArgs](args)
		if err != nil {
			return nil, err
		}
		return map[string]string{"name": in.Name, "user": rc.UserID}, nil
	})
	srv.Register("fail", func(context.Context, models.RequestContext, json.RawMessage) (any, error) {
		return nil, errors.New("kaput")
	})
	return srv
}

func TestCallRoundTrip(t *testing.T) {
	client := NewClient(loopback{newTestServer()}, "collector", nil)

	var out map[string]string
	err := client.Call(context.Background(), models.RequestContext{UserID: "u-1"}, "echo", echoArgs{Name: "stripe"}, &out)
	require.NoError(t, err)
	require.Equal(t, "stripe", out["name"])
	require.Equal(t, "u-1", out["user"])
}

func TestCallUnknownMethod(t *testing.T) {
	client := NewClient(loopback{newTestServer()}, "collector", nil)
	err := client.Call(context.Background(), models.RequestContext{}, "nope", nil, nil)
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestCallBadArgs(t *testing.T) {
	client := NewClient(loopback{newTestServer()}, "collector", nil)
	err := client.Call(context.Background(), models.RequestContext{}, "echo", []int{1}, nil)
	require.ErrorIs(t, err, ErrBadArgs)
}

func TestCallHandlerErrorBecomesRemoteError(t *testing.T) {
	client := NewClient(loopback{newTestServer()}, "collector", nil)
	err := client.Call(context.Background(), models.RequestContext{}, "fail", nil, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, KindInternal, remote.Kind)
	require.Equal(t, "kaput", remote.Message)
}

func TestDispatchRejectsGarbage(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal(newTestServer().Dispatch(context.Background(), []byte("{")), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, KindBadArgs, resp.Error.Kind)
}

func slowServer(t *testing.T, workers int) (*Server, chan struct{}, chan struct{}) {
	t.Helper()
	srv := NewServer("collector", logging.NewTestLogger(), WithConcurrency(workers))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv.Register("slow", func(ctx context.Context, _ models.RequestContext, _ json.RawMessage) (any, error) {
		started <- struct{}{}
		<-release
		return "slow", nil
	})
	srv.Register("fast", func(context.Context, models.RequestContext, json.RawMessage) (any, error) {
		return "fast", nil
	})
	return srv, started, release
}

func request(t *testing.T, method string) []byte {
	t.Helper()
	raw, err := json.Marshal(Request{Method: method})
	require.NoError(t, err)
	return raw
}

func TestSlowHandlerDoesNotBlockOtherRequests(t *testing.T) {
	srv, started, release := slowServer(t, 4)
	replies := make(chan string, 2)
	reply := func(name string) func([]byte) {
		return func([]byte) { replies <- name }
	}

	srv.serve(request(t, "slow"), reply("slow"))
	<-started
	srv.serve(request(t, "fast"), reply("fast"))

	select {
	case got := <-replies:
		require.Equal(t, "fast", got)
	case <-time.After(2 * time.Second):
		t.Fatal("fast request waited behind the slow handler")
	}
	close(release)
	require.Equal(t, "slow", <-replies)
}

func TestConcurrencyIsBounded(t *testing.T) {
	srv, started, release := slowServer(t, 1)
	replies := make(chan string, 2)

	srv.serve(request(t, "slow"), func([]byte) { replies <- "slow" })
	<-started

	fast := request(t, "fast")
	queued := make(chan struct{})
	go func() {
		srv.serve(fast, func([]byte) { replies <- "fast" })
		close(queued)
	}()

	select {
	case <-queued:
		t.Fatal("second request got a slot while the only one was busy")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.Equal(t, "slow", <-replies)
	<-queued
	require.Equal(t, "fast", <-replies)
}
