package proxy

import (
	"fmt"
)

type HostKey string

const (
	HostUnknown HostKey = ""
	HostGateway HostKey = "GATEWAY"
	HostNebula  HostKey = "NEBULA"
)

const (
	// UpstreamHeader selects the upstream a request is forwarded to.
	UpstreamHeader   = "X-Nebula-Gateway-Upstream"
	emptyHeaderValue = ""
)

var (
	Header2HostPreset map[string]HostKey = map[string]HostKey{
		"nebula":  HostNebula,
		"gateway": HostGateway,
		// use gateway by default
		emptyHeaderValue: HostGateway,
	}
)

var (
	ErrorInvalidHeader            = fmt.Errorf("invalid proxy header for %s", UpstreamHeader)
	ErrorNoReverseProxyRegistered = fmt.Errorf("no reverse proxy registered")
)
