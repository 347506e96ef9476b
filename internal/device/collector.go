// Package device assembles the opaque device-details blob attached to
// forwarded payloads.
package device

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime"
)

type hardwareDetails struct {
	Hostname       string `json:"hostname"`
	Architecture   string `json:"architecture"`
	ProcessorCores int    `json:"processorCores"`
}

type osDetails struct {
	Platform  string `json:"platform"`
	GoVersion string `json:"goVersion"`
	PID       int    `json:"pid"`
}

type networkDetails struct {
	IPAddress string `json:"ipAddress"`
}

type details struct {
	HardwareDetails    hardwareDetails `json:"hardwareDetails"`
	OSDetails          osDetails       `json:"osDetails"`
	NetworkInformation networkDetails  `json:"networkInformation"`
}

// Collector gathers host details fresh on every call, matching the
// collection endpoint's expectation of current state per message.
type Collector struct{}

// NewCollector creates a device details collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect returns the device details as an opaque JSON object.
func (c *Collector) Collect() (json.RawMessage, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	d := details{
		HardwareDetails: hardwareDetails{
			Hostname:       hostname,
			Architecture:   runtime.GOARCH,
			ProcessorCores: runtime.NumCPU(),
		},
		OSDetails: osDetails{
			Platform:  runtime.GOOS,
			GoVersion: runtime.Version(),
			PID:       os.Getpid(),
		},
		NetworkInformation: networkDetails{
			IPAddress: primaryIP(),
		},
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device details: %w", err)
	}

	return raw, nil
}

func primaryIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "Not Available"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		return ipNet.IP.String()
	}
	return "Not Available"
}
