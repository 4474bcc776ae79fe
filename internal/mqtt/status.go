package mqtt

import (
	"encoding/json"
	"net"
	"time"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Status is the retained record published on the status topic.
type Status struct {
	Status     string   `json:"status"`
	ClientID   string   `json:"client_id,omitempty"`
	IPAddress  string   `json:"ip_address,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"`
}

// lastWill is what the broker publishes when the session dies uncleanly.
func lastWill() []byte {
	b, _ := json.Marshal(Status{Status: statusOffline})
	return b
}

func (c *Client) statusRecord(state string) []byte {
	b, _ := json.Marshal(Status{
		Status:     state,
		ClientID:   c.opts.ClientID,
		IPAddress:  getIPAddress(),
		Interfaces: c.opts.Interfaces,
		Timestamp:  time.Now().Unix(),
	})
	return b
}

// getIPAddress tries to find the primary local IPv4 address.
func getIPAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "unknown"
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "unknown"
}
