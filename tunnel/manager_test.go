package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcrelay/util"
)

type fakeTunnel struct {
	mu         sync.Mutex
	connectErr error
	alive      bool
	closed     int
}

func (f *fakeTunnel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.alive = true
	return nil
}

func (f *fakeTunnel) Dial(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTunnel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	f.closed++
	return nil
}

func (f *fakeTunnel) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTunnel) kill() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

func TestManager_ReportsLostTunnel(t *testing.T) {
	mock := clock.NewMock()
	ft := &fakeTunnel{}
	lost := make(chan struct{}, 1)
	m := NewManager(ft, quietLogger(), ManagerOptions{
		Interval: time.Second,
		Clock:    mock,
		OnLost:   func() { lost <- struct{}{} },
	})

	require.NoError(t, m.Start(context.Background()))
	mock.Add(time.Second)
	select {
	case <-lost:
		t.Fatal("OnLost fired while tunnel was alive")
	default:
	}

	ft.kill()
	mock.Add(time.Second)
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("OnLost not called")
	}
	<-m.Done()
}

func TestManager_StopEndsLoop(t *testing.T) {
	mock := clock.NewMock()
	ft := &fakeTunnel{}
	called := false
	m := NewManager(ft, quietLogger(), ManagerOptions{
		Interval: time.Second,
		Clock:    mock,
		OnLost:   func() { called = true },
	})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("health loop still running after Stop")
	}
	assert.False(t, called)
	assert.Equal(t, 2, ft.closed)
}

func TestManager_ContextCancelEndsLoop(t *testing.T) {
	ft := &fakeTunnel{}
	m := NewManager(ft, quietLogger(), ManagerOptions{Clock: clock.NewMock()})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("health loop ignored context cancel")
	}
}

func TestManager_ConnectError(t *testing.T) {
	ft := &fakeTunnel{connectErr: errors.New("refused")}
	m := NewManager(ft, quietLogger(), ManagerOptions{})

	err := m.Start(context.Background())
	require.EqualError(t, err, "refused")
	assert.Nil(t, m.Done())
}

func TestSSHTunnel_DialBeforeConnect(t *testing.T) {
	tun := NewSSHTunnel(&SSHConfig{Host: "gw.example"}, quietLogger())
	assert.False(t, tun.IsAlive())
	assert.Equal(t, "gw.example:22", (&SSHConfig{Host: "gw.example", Port: DefaultSSHPort}).Addr())

	_, err := tun.Dial(context.Background(), "tcp", "peer:7000")
	require.Error(t, err)
	require.NoError(t, tun.Close())
}
