package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProgress(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Progress Suite")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

var _ = Describe("Simulator", func() {
	var (
		clock *fakeClock
		sim   *Simulator
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		sim = NewSimulatorWithClock(clock)
	})

	It("starts at zero", func() {
		Expect(sim.Value()).To(BeZero())
		sim.Start()
		Expect(sim.Value()).To(BeZero())
	})

	It("never decreases and stays below the ceiling while running", func() {
		sim.Start()
		previous := sim.Value()
		for i := 0; i < 200; i++ {
			clock.Advance(100 * time.Millisecond)
			v := sim.Value()
			Expect(v).To(BeNumerically(">=", previous))
			Expect(v).To(BeNumerically("<=", Ceiling))
			previous = v
		}
	})

	It("eases out, covering most of the climb early", func() {
		sim.Start()
		clock.Advance(RiseDuration / 2)
		Expect(sim.Value()).To(BeNumerically("~", Ceiling*0.75, 0.001))
	})

	It("plateaus at the ceiling", func() {
		sim.Start()
		clock.Advance(RiseDuration)
		Expect(sim.Value()).To(Equal(Ceiling))
		clock.Advance(time.Minute)
		Expect(sim.Value()).To(Equal(Ceiling))
	})

	It("completes from the current value to full", func() {
		sim.Start()
		clock.Advance(RiseDuration / 2)
		current := sim.Value()

		sim.Complete()
		Expect(sim.Value()).To(BeNumerically("~", current, 0.001))

		clock.Advance(FinishDuration / 2)
		Expect(sim.Value()).To(BeNumerically(">", current))
		Expect(sim.Value()).To(BeNumerically("<", Full))

		clock.Advance(FinishDuration)
		Expect(sim.Value()).To(Equal(Full))
	})

	It("resets to zero", func() {
		sim.Start()
		clock.Advance(time.Second)
		sim.Complete()
		clock.Advance(time.Second)
		sim.Reset()
		Expect(sim.Value()).To(BeZero())
	})
})

var _ = Describe("Bar", func() {
	var (
		clock *fakeClock
		sim   *Simulator
		out   *bytes.Buffer
		bar   *Bar
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Now()}
		sim = NewSimulatorWithClock(clock)
		out = &bytes.Buffer{}
		bar = NewBarWithWriter(sim, out, 10)
	})

	It("renders the fill proportionally", func() {
		Expect(bar.Render()).To(Equal("\r[          ]   0%"))

		sim.Start()
		clock.Advance(RiseDuration)
		sim.Complete()
		clock.Advance(FinishDuration)
		Expect(bar.Render()).To(Equal("\r[==========] 100%"))
	})

	It("clears the line when stopped", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		bar.Run(ctx)
		Expect(out.String()).To(HavePrefix("\r"))
		Expect(strings.TrimSpace(out.String())).To(BeEmpty())
	})
})
