package service

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netreactor/reactor-go/reactor"
)

type udpEchoHandler struct{}

func (udpEchoHandler) Service(ctx *reactor.Context, dialog *Dialog, rctx *ReadContext, buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	_ = dialog.SendTo(buf, rctx.Peer)
	return true
}

func startUDPEcho(t *testing.T, addr string) (*reactor.Context, *UDPService[udpEchoHandler]) {
	t.Helper()
	ctx, err := reactor.New(nil)
	require.NoError(t, err)
	require.NoError(t, ctx.InterruptSource().Open())

	svc := &UDPService[udpEchoHandler]{
		Address: addr,
		Handler: udpEchoHandler{},
	}
	require.NoError(t, svc.Start(ctx))

	go ctx.Run()
	t.Cleanup(func() {
		ctx.Signal(reactor.Terminate)
		ctx.InterruptSource().Close()
	})
	return ctx, svc
}

func TestUDPEchoAtoZ(t *testing.T) {
	_, svc := startUDPEcho(t, "127.0.0.1:0")

	conn, err := net.DialTimeout("udp", svc.Address, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	for c := byte('a'); c <= 'z'; c++ {
		_, err := conn.Write([]byte{c})
		require.NoError(t, err)
		reply := make([]byte, 1)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		n, err := conn.Read(reply)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, c, reply[0])
	}

	snap := svc.Stats.Snapshot()
	require.EqualValues(t, 26, snap.MessagesIn)
	require.EqualValues(t, 26, snap.MessagesOut)
	require.EqualValues(t, 26, snap.BytesOut)
}

func TestUDPEchoIPv6Loopback(t *testing.T) {
	_, svc := startUDPEcho(t, "[::1]:0")

	conn, err := net.DialTimeout("udp", svc.Address, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	for c := byte('a'); c <= 'z'; c++ {
		_, err := conn.Write([]byte{c})
		require.NoError(t, err)
		reply := make([]byte, 1)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		n, err := conn.Read(reply)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, c, reply[0])
	}
}

func TestUDPStartFailureReturnsErrorDirectly(t *testing.T) {
	ctx, err := reactor.New(nil)
	require.NoError(t, err)
	require.NoError(t, ctx.InterruptSource().Open())
	defer ctx.InterruptSource().Close()

	svc := &UDPService[udpEchoHandler]{Address: "not-a-valid-address"}
	err = svc.Start(ctx)
	require.Error(t, err, "unlike TCPService, a UDP start failure must surface directly")
}

func TestUDPTerminateShutsDownReadSide(t *testing.T) {
	_, svc := startUDPEcho(t, "127.0.0.1:0")

	// A bare reactor.Context does not dispatch its signal mask to a
	// service (contextthread installs that ISR), so deliver Terminate to
	// the service's handler directly.
	svc.SignalHandler(reactor.Terminate)

	require.Eventually(t, func() bool {
		return svc.serverFD.Load() == Invalid
	}, time.Second, 5*time.Millisecond)
}
