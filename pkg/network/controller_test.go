package network_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/emberwallet/network-go/pkg/network"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

var _ = Describe("Controller", func() {
	var (
		factory    *fakeFactory
		controller *network.Controller
	)

	newController := func(config network.Config) *network.Controller {
		config.Logger = quietLogger()
		c, err := network.NewController(config)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		factory = newFakeFactory()
	})

	Describe("construction", func() {
		It("requires a connection factory", func() {
			_, err := network.NewController(network.Config{Logger: quietLogger()})
			Expect(err).To(HaveOccurred())
		})

		It("defaults to the mainnet built-in", func() {
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
			cfg := controller.GetProviderConfig()
			Expect(cfg.Type).To(Equal(network.TypeMainnet))
			Expect(cfg.ChainID).To(Equal("0x1"))
		})

		It("rejects an invalid initial custom provider", func() {
			_, err := network.NewController(network.Config{
				Factory: factory,
				Logger:  quietLogger(),
				Provider: &network.ProviderConfig{
					Type:    network.TypeRPC,
					RPCURL:  "http://localhost:9850",
					ChainID: "254",
				},
			})
			Expect(network.IsNetworkError(err, network.ErrCodeInvalidChainID)).To(BeTrue())
		})

		It("resolves its initial network to available", func() {
			factory.scriptInfura(network.TypeMainnet, newFakeDispatcher("1"))
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})

			Eventually(func() network.NetworkStatus {
				return controller.GetNetworkStatus()
			}).Should(Equal(network.NetworkStatus{Status: network.StatusAvailable, NetworkVersion: "1"}))
		})
	})

	Describe("SetCustomRPC", func() {
		BeforeEach(func() {
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
		})

		It("stores the chain ID it was given for every valid input", func() {
			for i, chainID := range []string{"0x1", "0xfe", "0xaa36a7", "0x1fffffffffffff"} {
				rpcURL := fmt.Sprintf("http://localhost:%d", 9850+i)
				Expect(controller.SetCustomRPC(rpcURL, chainID)).To(Succeed())
				Expect(controller.GetProviderConfig().ChainID).To(Equal(chainID))
				Expect(controller.GetProviderConfig().RPCURL).To(Equal(rpcURL))
			}
		})

		It("leaves all state untouched on an invalid chain ID", func() {
			before := controller.Snapshot()
			willChanges := 0
			controller.On(network.EventNetworkWillChange, func(network.EndpointType) {
				willChanges++
			})

			for _, chainID := range []string{"", "254", "0xZZ", "0x0", "0x20000000000000"} {
				err := controller.SetCustomRPC("http://localhost:9850", chainID)
				Expect(network.IsNetworkError(err, network.ErrCodeInvalidChainID)).To(BeTrue(), chainID)
			}

			Expect(controller.Snapshot().Provider).To(Equal(before.Provider))
			Expect(controller.Snapshot().PreviousProvider).To(Equal(before.PreviousProvider))
			Expect(willChanges).To(BeZero())
			Expect(factory.customCallCount()).To(BeZero())
		})

		It("rejects a bad RPC URL before any mutation", func() {
			before := controller.GetProviderConfig()
			err := controller.SetCustomRPC("ftp://example.com", "0xfe")
			Expect(network.IsNetworkError(err, network.ErrCodeInvalidRPCURL)).To(BeTrue())
			Expect(controller.GetProviderConfig()).To(Equal(before))
		})

		It("refuses websocket endpoints without calling the factory", func() {
			before := controller.GetProviderConfig()
			for _, rpcURL := range []string{"ws://127.0.0.1:8546", "wss://rpc.example.com"} {
				err := controller.SetCustomRPC(rpcURL, "0xfe")
				Expect(network.IsNetworkError(err, network.ErrCodeInvalidRPCURL)).To(BeTrue(), rpcURL)
			}
			Expect(controller.GetProviderConfig()).To(Equal(before))
			Expect(factory.customCallCount()).To(BeZero())
		})

		It("leaves the active connection untouched when the factory fails", func() {
			Eventually(func() *bool {
				return controller.GetNetworkDetails().EIP1559Support
			}).ShouldNot(BeNil())
			before := controller.Snapshot()

			willChanges := 0
			controller.On(network.EventNetworkWillChange, func(network.EndpointType) {
				willChanges++
			})

			factory.scriptCustomError("http://localhost:9851", errors.New("dial refused"))
			err := controller.SetCustomRPC("http://localhost:9851", "0xfe")
			Expect(network.IsNetworkError(err, network.ErrCodeConnectionFailed)).To(BeTrue())

			Expect(controller.Snapshot()).To(Equal(before))
			Expect(willChanges).To(BeZero())

			// The installed connection still answers through the proxy.
			provider, _ := controller.GetProviderAndBlockTracker()
			var version string
			Expect(provider.Dispatch(context.Background(), &version, "net_version")).To(Succeed())
			Expect(version).To(Equal("1"))
		})

		It("applies display options", func() {
			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe",
				network.WithTicker("LOC"),
				network.WithNickname("local devnet"),
				network.WithBlockExplorer("http://localhost:4000"),
			)).To(Succeed())

			cfg := controller.GetProviderConfig()
			Expect(cfg.Ticker).To(Equal("LOC"))
			Expect(cfg.Nickname).To(Equal("local devnet"))
			Expect(cfg.RPCPrefs.BlockExplorerURL).To(Equal("http://localhost:4000"))
		})
	})

	Describe("SetInfuraNetwork", func() {
		BeforeEach(func() {
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
		})

		It("always rejects the reserved rpc type", func() {
			err := controller.SetInfuraNetwork(network.TypeRPC)
			Expect(network.IsNetworkError(err, network.ErrCodeReservedNetworkType)).To(BeTrue())

			err = controller.SetInfuraNetwork(network.TypeRPC, network.WithTicker("ETH"), network.WithNickname("sneaky"))
			Expect(network.IsNetworkError(err, network.ErrCodeReservedNetworkType)).To(BeTrue())
		})

		It("rejects names outside the built-in table", func() {
			err := controller.SetInfuraNetwork(network.EndpointType("ropsten"))
			Expect(network.IsNetworkError(err, network.ErrCodeUnknownNetwork)).To(BeTrue())
		})

		It("derives chain ID and ticker from the built-in table", func() {
			Expect(controller.SetInfuraNetwork(network.TypeSepolia)).To(Succeed())
			cfg := controller.GetProviderConfig()
			Expect(cfg.ChainID).To(Equal("0xaa36a7"))
			Expect(cfg.Ticker).To(Equal("SepoliaETH"))
		})

		It("records a display RPC URL override without routing through it", func() {
			Expect(controller.SetInfuraNetwork(network.TypeSepolia, network.WithRPCURL("https://display.example.com"))).To(Succeed())
			Expect(controller.GetProviderConfig().RPCURL).To(Equal("https://display.example.com"))
			Expect(factory.infuraCalls).To(ContainElement("sepolia/pid"))
		})

		It("fails closed without a project ID", func() {
			bare := newController(network.Config{
				Factory: factory,
				Provider: &network.ProviderConfig{
					Type:    network.TypeRPC,
					RPCURL:  "http://localhost:9850",
					ChainID: "0xfe",
				},
			})

			before := bare.GetProviderConfig()
			err := bare.SetInfuraNetwork(network.TypeMainnet)
			Expect(network.IsNetworkError(err, network.ErrCodeProjectIDNotSet)).To(BeTrue())
			Expect(bare.GetProviderConfig()).To(Equal(before))

			bare.SetInfuraProjectID("pid")
			Expect(bare.SetInfuraNetwork(network.TypeMainnet)).To(Succeed())
		})
	})

	Describe("switching", func() {
		BeforeEach(func() {
			factory.scriptInfura(network.TypeMainnet, newFakeDispatcher("1"))
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
			// Wait for the construction probe to apply fully (details are
			// its last write) so no late writes leak into the traces below.
			Eventually(func() *bool {
				return controller.GetNetworkDetails().EIP1559Support
			}).ShouldNot(BeNil())
		})

		It("keeps the proxy identities stable across switches", func() {
			provider, tracker := controller.GetProviderAndBlockTracker()
			Expect(provider).NotTo(BeNil())
			Expect(tracker).NotTo(BeNil())

			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())

			providerAfter, trackerAfter := controller.GetProviderAndBlockTracker()
			Expect(providerAfter).To(BeIdenticalTo(provider))
			Expect(trackerAfter).To(BeIdenticalTo(tracker))
		})

		It("sets status to loading immediately on every switch", func() {
			gated := newFakeDispatcher("254")
			gate := make(chan struct{})
			gated.setGate(gate)
			defer close(gate)
			factory.scriptCustom("http://localhost:9850", gated)

			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())
			Expect(controller.GetNetworkStatus()).To(Equal(network.NetworkStatus{Status: network.StatusLoading}))
		})

		It("emits lifecycle events around the state changes, in order", func() {
			var mu sync.Mutex
			var trace []string
			record := func(entry string) {
				mu.Lock()
				trace = append(trace, entry)
				mu.Unlock()
			}

			controller.On(network.EventNetworkWillChange, func(t network.EndpointType) {
				record("willChange:" + string(t))
			})
			controller.On(network.EventNetworkDidChange, func(t network.EndpointType) {
				record("didChange:" + string(t))
			})
			controller.Watch(func(change network.Change) {
				record("write:" + string(change.Slot))
			})

			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())

			mu.Lock()
			defer mu.Unlock()
			// The probe may append more status writes after these.
			Expect(len(trace)).To(BeNumerically(">=", 6))
			Expect(trace[0]).To(Equal("willChange:mainnet"))
			Expect(trace[1]).To(Equal("write:status"))
			Expect(trace[2]).To(Equal("write:details"))
			Expect(trace[3]).To(Equal("write:previousProvider"))
			Expect(trace[4]).To(Equal("write:provider"))
			Expect(trace[5]).To(Equal("didChange:rpc"))
		})

		It("records the outgoing config in the history slot", func() {
			outgoing := controller.GetProviderConfig()
			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())
			Expect(controller.GetPreviousProviderConfig()).To(Equal(outgoing))
		})

		It("detects EIP-1559 support and resets it on switch", func() {
			Eventually(func() *bool {
				return controller.GetNetworkDetails().EIP1559Support
			}).ShouldNot(BeNil())
			Expect(*controller.GetNetworkDetails().EIP1559Support).To(BeTrue())

			legacy := newFakeDispatcher("99")
			legacy.baseFee = false
			gate := make(chan struct{})
			legacy.setGate(gate)
			factory.scriptCustom("http://localhost:9851", legacy)

			Expect(controller.SetCustomRPC("http://localhost:9851", "0x63")).To(Succeed())
			Expect(controller.GetNetworkDetails().EIP1559Support).To(BeNil())

			close(gate)
			Eventually(func() *bool {
				return controller.GetNetworkDetails().EIP1559Support
			}).ShouldNot(BeNil())
			Expect(*controller.GetNetworkDetails().EIP1559Support).To(BeFalse())
		})
	})

	Describe("GetNetworkIdentifier", func() {
		It("uses the RPC URL for custom endpoints and the name otherwise", func() {
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
			Expect(controller.GetNetworkIdentifier()).To(Equal("mainnet"))

			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())
			Expect(controller.GetNetworkIdentifier()).To(Equal("http://localhost:9850"))
		})
	})

	Describe("ResetConnection", func() {
		It("builds a fresh connection without touching config or history", func() {
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())

			cfg := controller.GetProviderConfig()
			prev := controller.GetPreviousProviderConfig()
			calls := factory.customCallCount()

			Expect(controller.ResetConnection()).To(Succeed())

			Expect(controller.GetProviderConfig()).To(Equal(cfg))
			Expect(controller.GetPreviousProviderConfig()).To(Equal(prev))
			Expect(factory.customCallCount()).To(Equal(calls + 1))
		})
	})

	Describe("Rollback", func() {
		BeforeEach(func() {
			factory.scriptInfura(network.TypeMainnet, newFakeDispatcher("1"))
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})
		})

		It("fails when no previous network exists", func() {
			err := controller.Rollback()
			Expect(network.IsNetworkError(err, network.ErrCodeNoPreviousNetwork)).To(BeTrue())
		})

		It("restores the exact configuration active before the switch", func() {
			before := controller.GetProviderConfig()
			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())

			Expect(controller.Rollback()).To(Succeed())
			Expect(controller.GetProviderConfig()).To(Equal(before))
		})

		It("does not record the abandoned config in history", func() {
			// Single-level undo: rolling back does not make the abandoned
			// custom config the new rollback target.
			mainnet := controller.GetProviderConfig()
			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())

			Expect(controller.Rollback()).To(Succeed())
			Expect(controller.GetPreviousProviderConfig()).To(Equal(mainnet))

			// A second rollback lands on the same configuration again.
			Expect(controller.Rollback()).To(Succeed())
			Expect(controller.GetProviderConfig()).To(Equal(mainnet))
		})
	})

	Describe("liveness probing", func() {
		It("collapses probe failures into the loading status", func() {
			broken := newFakeDispatcher("")
			broken.setError(errors.New("connection refused"))
			factory.scriptCustom("http://localhost:9850", broken)

			controller = newController(network.Config{
				Factory: factory,
				Provider: &network.ProviderConfig{
					Type:    network.TypeRPC,
					RPCURL:  "http://localhost:9850",
					ChainID: "0xfe",
				},
			})

			Consistently(func() network.Status {
				return controller.GetNetworkStatus().Status
			}, 100*time.Millisecond).Should(Equal(network.StatusLoading))
		})

		It("re-probes on VerifyNetwork only while loading", func() {
			broken := newFakeDispatcher("254")
			broken.setError(errors.New("connection refused"))
			factory.scriptCustom("http://localhost:9850", broken)

			controller = newController(network.Config{
				Factory: factory,
				Provider: &network.ProviderConfig{
					Type:    network.TypeRPC,
					RPCURL:  "http://localhost:9850",
					ChainID: "0xfe",
				},
			})

			Eventually(broken.dispatchCount).Should(BeNumerically(">=", 1))
			calls := broken.dispatchCount()

			// Still loading, so this nudges a new probe.
			controller.VerifyNetwork()
			Eventually(broken.dispatchCount).Should(BeNumerically(">", calls))

			// Let it recover, then confirm VerifyNetwork is a no-op.
			broken.setError(nil)
			controller.VerifyNetwork()
			Eventually(func() network.Status {
				return controller.GetNetworkStatus().Status
			}).Should(Equal(network.StatusAvailable))

			settled := broken.dispatchCount()
			controller.VerifyNetwork()
			Consistently(broken.dispatchCount, 50*time.Millisecond).Should(Equal(settled))
		})

		It("discards a stale probe that resolves after a newer switch", func() {
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})

			slow := newFakeDispatcher("111")
			gate := make(chan struct{})
			slow.setGate(gate)
			factory.scriptCustom("http://slow.example.com", slow)

			fast := newFakeDispatcher("254")
			factory.scriptCustom("http://fast.example.com", fast)

			// First switch: its probe parks on the gate.
			Expect(controller.SetCustomRPC("http://slow.example.com", "0x6f")).To(Succeed())
			Eventually(slow.dispatchCount).Should(Equal(1))

			// Second switch resolves before the first probe does.
			Expect(controller.SetCustomRPC("http://fast.example.com", "0xfe")).To(Succeed())
			Eventually(func() network.NetworkStatus {
				return controller.GetNetworkStatus()
			}).Should(Equal(network.NetworkStatus{Status: network.StatusAvailable, NetworkVersion: "254"}))

			// Release the stale probe; its result must not clobber anything.
			close(gate)
			Consistently(func() network.NetworkStatus {
				return controller.GetNetworkStatus()
			}, 200*time.Millisecond).Should(Equal(network.NetworkStatus{Status: network.StatusAvailable, NetworkVersion: "254"}))
		})
	})

	Describe("end to end", func() {
		It("switches, resolves, and rolls back across endpoint kinds", func() {
			factory.scriptInfura(network.TypeMainnet, newFakeDispatcher("1"))
			controller = newController(network.Config{Factory: factory, InfuraProjectID: "pid"})

			Eventually(func() network.NetworkStatus {
				return controller.GetNetworkStatus()
			}).Should(Equal(network.NetworkStatus{Status: network.StatusAvailable, NetworkVersion: "1"}))

			custom := newFakeDispatcher("254")
			gate := make(chan struct{})
			custom.setGate(gate)
			factory.scriptCustom("http://localhost:9850", custom)

			Expect(controller.SetCustomRPC("http://localhost:9850", "0xfe")).To(Succeed())
			Expect(controller.GetNetworkStatus().Status).To(Equal(network.StatusLoading))

			close(gate)
			Eventually(func() network.NetworkStatus {
				return controller.GetNetworkStatus()
			}).Should(Equal(network.NetworkStatus{Status: network.StatusAvailable, NetworkVersion: "254"}))

			mainnetDispatcher := factory.infura[network.TypeMainnet]
			rollbackGate := make(chan struct{})
			mainnetDispatcher.setGate(rollbackGate)

			Expect(controller.Rollback()).To(Succeed())
			Expect(controller.GetProviderConfig().Type).To(Equal(network.TypeMainnet))
			Expect(controller.GetNetworkStatus().Status).To(Equal(network.StatusLoading))

			close(rollbackGate)
			Eventually(func() network.NetworkStatus {
				return controller.GetNetworkStatus()
			}).Should(Equal(network.NetworkStatus{Status: network.StatusAvailable, NetworkVersion: "1"}))
		})
	})
})
