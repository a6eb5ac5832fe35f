package readiness_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ng-dev-proxy/internal/metrics"
	"ng-dev-proxy/internal/model"
	"ng-dev-proxy/internal/readiness"
	"ng-dev-proxy/internal/registry"
	"ng-dev-proxy/internal/service"
)

// fakeProbe reports a port as listening from its readyAfter-th probe on.
type fakeProbe struct {
	mu         sync.Mutex
	calls      map[int]int
	readyAfter map[int]int
	err        error
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{calls: map[int]int{}, readyAfter: map[int]int{}}
}

func (p *fakeProbe) Listening(_ context.Context, port int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[port]++
	if p.err != nil {
		return false, p.err
	}
	n, ok := p.readyAfter[port]
	return ok && p.calls[port] >= n, nil
}

func (p *fakeProbe) Calls(port int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[port]
}

var _ = Describe("Monitor", func() {
	var (
		log      *slog.Logger
		reg      *registry.Registry
		probe    *fakeProbe
		built    atomic.Int32
		factory  readiness.BackendFunc
		m        *metrics.Metrics
		monitor  *readiness.Monitor
		root     model.Target
		admin    model.Target
		interval = 20 * time.Millisecond
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		root = model.NewTarget("http", "localhost", 4200, "/")
		admin = model.NewTarget("http", "localhost", 4201, "/admin/")

		var err error
		reg, err = registry.New([]model.Target{root, admin})
		Expect(err).NotTo(HaveOccurred())

		probe = newFakeProbe()
		built.Store(0)
		factory = func(t model.Target) *service.Backend {
			built.Add(1)
			return service.NewBackend(t, nil, nil)
		}
		m = metrics.New()
		monitor = readiness.NewMonitor(reg, probe, factory, interval, log, m)
	})

	AfterEach(func() {
		monitor.Stop()
	})

	It("publishes a backend once its port is listening", func() {
		probe.readyAfter[4200] = 3

		monitor.Start(context.Background())

		entry := reg.Match("/")
		Eventually(entry.Ready).WithTimeout(time.Second).Should(BeTrue())
		Expect(probe.Calls(4200)).To(Equal(3))
		Expect(entry.Backend().Target()).To(Equal(root))
	})

	It("transitions each entry exactly once and never reverts", func() {
		probe.readyAfter[4200] = 1
		probe.readyAfter[4201] = 2

		monitor.Start(context.Background())

		Eventually(func() bool {
			return reg.Match("/").Ready() && reg.Match("/admin/x").Ready()
		}).WithTimeout(time.Second).Should(BeTrue())

		first := reg.Match("/admin/x").Backend()
		Consistently(func() *service.Backend {
			return reg.Match("/admin/x").Backend()
		}).WithDuration(5 * interval).Should(BeIdenticalTo(first))
		Expect(built.Load()).To(BeEquivalentTo(2))
	})

	It("keeps other entries pending independently", func() {
		probe.readyAfter[4200] = 1

		monitor.Start(context.Background())

		Eventually(reg.Match("/").Ready).WithTimeout(time.Second).Should(BeTrue())
		Consistently(reg.Match("/admin").Ready).WithDuration(5 * interval).Should(BeFalse())
	})

	It("retries after probe errors", func() {
		probe.err = errors.New("proc unavailable")

		monitor.Start(context.Background())

		Eventually(func() int { return probe.Calls(4200) }).WithTimeout(time.Second).Should(BeNumerically(">=", 3))
		Expect(reg.Match("/").Ready()).To(BeFalse())
	})

	It("stops probing when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		monitor.Start(ctx)

		Eventually(func() int { return probe.Calls(4200) }).WithTimeout(time.Second).Should(BeNumerically(">=", 1))
		cancel()
		monitor.Stop()

		calls := probe.Calls(4200)
		Consistently(func() int { return probe.Calls(4200) }).WithDuration(5 * interval).Should(Equal(calls))
	})
})

var _ = Describe("CheckPortsFree", func() {
	targets := []model.Target{
		model.NewTarget("http", "localhost", 4200, "/"),
		model.NewTarget("http", "localhost", 4201, "/admin/"),
	}

	It("passes when no port is listening", func() {
		Expect(readiness.CheckPortsFree(context.Background(), newFakeProbe(), targets)).To(Succeed())
	})

	It("fails with ErrPortInUse naming the busy port", func() {
		probe := newFakeProbe()
		probe.readyAfter[4201] = 1

		err := readiness.CheckPortsFree(context.Background(), probe, targets)
		Expect(err).To(MatchError(readiness.ErrPortInUse))
		Expect(err.Error()).To(ContainSubstring("4201"))
	})

	It("reports probe failures", func() {
		probe := newFakeProbe()
		probe.err = errors.New("boom")

		err := readiness.CheckPortsFree(context.Background(), probe, targets)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(readiness.ErrPortInUse))
	})
})

var _ = Describe("SocketProbe", func() {
	It("sees a local listener without connecting to it", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		port := ln.Addr().(*net.TCPAddr).Port

		accepted := make(chan struct{}, 1)
		go func() {
			if conn, err := ln.Accept(); err == nil {
				accepted <- struct{}{}
				_ = conn.Close()
			}
		}()

		probe := readiness.NewSocketProbe()
		Expect(probe.Listening(context.Background(), port)).To(BeTrue())

		Expect(ln.Close()).To(Succeed())
		Expect(accepted).NotTo(Receive())
		Expect(probe.Listening(context.Background(), port)).To(BeFalse())
	})
})
