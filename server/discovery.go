package server

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/dotside-studios/nci-agent/buildinfo"
)

// mDNS service type for the monitor feed.
const zeroconfService = "_nci-agent._tcp"

// Advertiser announces the monitor endpoint over mDNS so local tools can
// find it without configuration.
type Advertiser struct {
	log    logrus.FieldLogger
	server *zeroconf.Server
}

// NewAdvertiser registers the mDNS service for the given monitor port.
func NewAdvertiser(log logrus.FieldLogger, port int) (*Advertiser, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	server, err := zeroconf.Register(buildinfo.DisplayName, zeroconfService,
		"local.", port, []string{
			"version=" + buildinfo.FullVersion(),
			"path=/ws",
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("zeroconf registration failed: %w", err)
	}
	log.Infof("Advertising %s on %s port %d", buildinfo.DisplayName,
		zeroconfService, port)
	return &Advertiser{log: log, server: server}, nil
}

// Shutdown withdraws the mDNS registration.
func (a *Advertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.log.Debug("mDNS advertisement withdrawn")
	}
}
