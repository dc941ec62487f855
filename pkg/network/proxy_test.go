package network_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/emberwallet/network-go/pkg/network"
)

var _ = Describe("ProviderProxy", func() {
	It("forwards dispatches to the current target", func() {
		first := newFakeDispatcher("1")
		proxy := network.NewProviderProxy(first)

		var version string
		Expect(proxy.Dispatch(context.Background(), &version, "net_version")).To(Succeed())
		Expect(version).To(Equal("1"))
	})

	It("routes subsequent calls to the new target after a swap", func() {
		first := newFakeDispatcher("1")
		second := newFakeDispatcher("254")
		proxy := network.NewProviderProxy(first)

		proxy.SetTarget(second)

		var version string
		Expect(proxy.Dispatch(context.Background(), &version, "net_version")).To(Succeed())
		Expect(version).To(Equal("254"))
		Expect(first.dispatchCount()).To(BeZero())
	})

	It("lets in-flight calls complete against the target they captured", func() {
		gate := make(chan struct{})
		first := newFakeDispatcher("1")
		first.setGate(gate)
		second := newFakeDispatcher("254")
		proxy := network.NewProviderProxy(first)

		type outcome struct {
			version string
			err     error
		}
		done := make(chan outcome, 1)
		go func() {
			var version string
			err := proxy.Dispatch(context.Background(), &version, "net_version")
			done <- outcome{version, err}
		}()

		// The in-flight call is parked on the gate; swap underneath it.
		Eventually(first.dispatchCount).Should(Equal(1))
		proxy.SetTarget(second)
		close(gate)

		result := <-done
		Expect(result.err).NotTo(HaveOccurred())
		Expect(result.version).To(Equal("1"))

		var version string
		Expect(proxy.Dispatch(context.Background(), &version, "net_version")).To(Succeed())
		Expect(version).To(Equal("254"))
	})
})
