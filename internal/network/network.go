// Package network reports the state of the wireless access point the
// device serves uploads on. Bring-up is done by the host; this package
// only observes it.
package network

import (
	"fmt"
	"net"

	"github.com/mmartingarciia/retroducer/internal/config"
	"github.com/mmartingarciia/retroducer/internal/models"
)

// Interface is the network collaborator consumed by the status reporter.
type Interface interface {
	Status() (models.NetworkStatus, error)
}

// SoftAP describes a soft access point. When an interface name is
// configured its first IPv4 address is reported; otherwise the static
// address is.
type SoftAP struct {
	ssid      string
	iface     string
	address   string
	lookupIfc func(name string) (*net.Interface, error)
}

func NewSoftAP(cfg config.NetworkConfig) *SoftAP {
	return &SoftAP{
		ssid:      cfg.SSID,
		iface:     cfg.Interface,
		address:   cfg.Address,
		lookupIfc: net.InterfaceByName,
	}
}

func (ap *SoftAP) Status() (models.NetworkStatus, error) {
	if ap.iface == "" {
		return models.NetworkStatus{State: models.NetworkOnline, SSID: ap.ssid, IP: ap.address}, nil
	}

	ifc, err := ap.lookupIfc(ap.iface)
	if err != nil {
		return models.NetworkStatus{}, fmt.Errorf("failed to look up interface %s: %w", ap.iface, err)
	}
	if ifc.Flags&net.FlagUp == 0 {
		return models.NetworkStatus{State: models.NetworkOffline, SSID: ap.ssid}, nil
	}

	addrs, err := ifc.Addrs()
	if err != nil {
		return models.NetworkStatus{}, fmt.Errorf("failed to read addresses of %s: %w", ap.iface, err)
	}
	ip := ap.address
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			ip = ipNet.IP.String()
			break
		}
	}
	return models.NetworkStatus{State: models.NetworkOnline, SSID: ap.ssid, IP: ip}, nil
}
