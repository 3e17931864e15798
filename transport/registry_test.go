package transport_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tcpserial/transport"
)

var _ = Describe("transport / Registry", func() {
	var (
		registry *transport.Registry
		sessions []*transport.Session
	)

	BeforeEach(func() {
		registry = transport.NewRegistry()
		sessions = nil

		for i := 0; i < 3; i++ {
			sessions = append(sessions, transport.NewSession(context.Background(), transport.SessionOptions{}))
		}
	})

	It("hands out ids starting at 1", func() {
		for i, sess := range sessions {
			Expect(registry.Add(sess)).To(Equal(i + 1))
		}

		Expect(registry.Len()).To(Equal(3))
		Expect(registry.Get(2)).To(BeIdenticalTo(sessions[1]))
	})

	It("returns nil for ids it never handed out", func() {
		registry.Add(sessions[0])

		Expect(registry.Get(0)).To(BeNil())
		Expect(registry.Get(2)).To(BeNil())
		Expect(registry.Get(-1)).To(BeNil())
	})

	It("keeps the other ids stable when a slot is tombstoned", func() {
		for _, sess := range sessions {
			registry.Add(sess)
		}

		Expect(registry.Tombstone(2, sessions[1])).To(BeTrue())

		Expect(registry.Get(2)).To(BeNil())
		Expect(registry.Get(3)).To(BeIdenticalTo(sessions[2]))
		Expect(registry.Len()).To(Equal(3))

		extra := transport.NewSession(context.Background(), transport.SessionOptions{})
		Expect(registry.Add(extra)).To(Equal(4))
	})

	It("only tombstones the session that owns the slot", func() {
		registry.Add(sessions[0])

		Expect(registry.Tombstone(1, sessions[1])).To(BeFalse())
		Expect(registry.Tombstone(5, sessions[0])).To(BeFalse())
		Expect(registry.Get(1)).To(BeIdenticalTo(sessions[0]))
	})

	It("starts numbering over once every slot is tombstoned", func() {
		registry.Add(sessions[0])
		registry.Add(sessions[1])

		registry.Tombstone(1, sessions[0])
		registry.Tombstone(2, sessions[1])

		Expect(registry.Add(sessions[2])).To(Equal(1))
		Expect(registry.Len()).To(Equal(1))
	})

	It("leaves sessions that are not open out of Live", func() {
		registry.Add(sessions[0])

		Expect(registry.Live()).To(BeEmpty())
		Expect(registry.LiveCount()).To(BeZero())
	})
})
