// Package api exposes the network controller over a localhost HTTP
// surface for the wallet frontend.
package api

import (
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emberwallet/network-go/pkg/network"
)

// APIService serves the controller state and switch operations. It
// acquires the provider and block tracker proxies once at construction
// and holds them for its lifetime; network switches swap the transports
// underneath without the service noticing.
type APIService struct {
	address    string
	controller *network.Controller
	provider   *network.ProviderProxy
	tracker    *network.BlockTrackerProxy
	log        *logrus.Logger

	headMu       sync.RWMutex
	lastHead     uint64
	removeHeadFn func()
}

// NewAPIService creates the service and subscribes it to head events.
func NewAPIService(address string, controller *network.Controller, log *logrus.Logger) *APIService {
	provider, tracker := controller.GetProviderAndBlockTracker()

	api := &APIService{
		address:    address,
		controller: controller,
		provider:   provider,
		tracker:    tracker,
		log:        log,
	}

	api.removeHeadFn = tracker.AddListener(func(event network.TrackerEvent) {
		if event.Type != network.TrackerLatest {
			return
		}
		api.headMu.Lock()
		api.lastHead = event.Number
		api.headMu.Unlock()
	})

	return api
}

// Close removes the head subscription, letting an otherwise idle tracker
// stop polling.
func (api *APIService) Close() {
	if api.removeHeadFn != nil {
		api.removeHeadFn()
		api.removeHeadFn = nil
	}
}

// Router builds the gin engine. Split from Serve so tests can drive the
// handlers without binding a socket.
func (api *APIService) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "HEAD", "OPTIONS", "DELETE"},
		AllowHeaders:    []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	apiv1 := r.Group("/v1")

	nw := apiv1.Group("/network")
	nw.GET("", api.GetNetwork)
	nw.POST("/infura", api.SetInfuraNetwork)
	nw.POST("/custom", api.SetCustomRPC)
	nw.POST("/reset", api.ResetConnection)
	nw.POST("/rollback", api.Rollback)
	nw.POST("/verify", api.VerifyNetwork)

	apiv1.GET("/networks", api.ListNetworks)

	chain := apiv1.Group("/chain")
	chain.GET("/head", api.GetHead)
	chain.GET("/balance/:address", api.GetBalance)

	return r
}

// Serve runs the HTTP service until it fails.
func (api *APIService) Serve() error {
	api.log.WithField("address", api.address).Info("Starting API service")
	return api.Router().Run(api.address)
}
