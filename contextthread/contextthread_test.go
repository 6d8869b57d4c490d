package contextthread

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/netreactor/reactor-go/internal/metrics"
	"github.com/netreactor/reactor-go/reactor"
)

type recordingService struct {
	lastSignal atomic.Int64
	signalSeen int32
}

func (s *recordingService) Start(*reactor.Context) error { return nil }
func (s *recordingService) SignalHandler(sig reactor.Signal) {
	s.lastSignal.Store(int64(sig))
	atomic.AddInt32(&s.signalSeen, 1)
}

func TestStartTerminateRoundTrip(t *testing.T) {
	svc := &recordingService{}
	ct := New(func() *recordingService { return svc })

	require.NoError(t, ct.Start())
	require.Equal(t, reactor.Started, ct.State())

	ct.Context().Signal(reactor.Terminate)
	waitForState(t, ct, reactor.Stopped)
}

func TestStartTwiceFailsOnSecondCall(t *testing.T) {
	svc := &recordingService{}
	ct := New(func() *recordingService { return svc })

	require.NoError(t, ct.Start())
	require.Equal(t, reactor.Started, ct.State())

	err := ct.Start()
	require.Error(t, err)
	require.Equal(t, reactor.Started, ct.State(), "the first start must remain in effect")

	ct.Close()
}

func TestUserSignalDeliveredExactlyOnce(t *testing.T) {
	svc := &recordingService{}
	ct := New(func() *recordingService { return svc })
	require.NoError(t, ct.Start())

	ct.Context().Signal(reactor.User1)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&svc.signalSeen) >= 1
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&svc.signalSeen))
	require.Equal(t, int64(reactor.User1), svc.lastSignal.Load())

	ct.Close()
}

func TestSignalDeliveryIsMirroredIntoMetrics(t *testing.T) {
	svc := &recordingService{}
	reg := prometheus.NewRegistry()
	m := metrics.New("reactor", "contextthread_test", reg)
	ct := New(func() *recordingService { return svc }).WithMetrics(m)
	require.NoError(t, ct.Start())

	ct.Context().Signal(reactor.User1)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SignalsDelivered.WithLabelValues("user1")) == 1
	}, time.Second, time.Millisecond)

	ct.Close()
}

func TestNullServiceStartsAndStops(t *testing.T) {
	ct := NewNull()
	require.NoError(t, ct.Start())
	require.Equal(t, reactor.Started, ct.State())
	ct.Close()
	require.Equal(t, reactor.Stopped, ct.State())
}

func TestCloseOnNeverStartedIsNoop(t *testing.T) {
	ct := NewNull()
	ct.Close() // must not panic or block
	require.Equal(t, reactor.Pending, ct.State())
}

func waitForState(t *testing.T, ct *ContextThread[*recordingService], want reactor.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ct.State() == want
	}, 2*time.Second, 5*time.Millisecond)
}
