// Package balancer keeps pools of remote endpoints per logical target name
// and selects among them round-robin.
package balancer

import (
	"fmt"
	"strconv"
)

// Endpoint defaults.
const (
	DefaultServicePath = "/"
	DefaultExplainPath = "/explain"
	DefaultInfoPath    = "/info"
	DefaultCPU         = 1
	DefaultMaxQueue    = 1000
)

// Endpoint is one remote node. CurTask and Available are bookkeeping owned
// by the pool holding the endpoint.
type Endpoint struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	ServicePath string `json:"servicePath,omitempty"`
	ExplainPath string `json:"explainPath,omitempty"`
	InfoPath    string `json:"infoPath,omitempty"`
	CPU         int    `json:"cpu,omitempty"`
	MaxQueue    int    `json:"maxQueue,omitempty"`
	Version     string `json:"version,omitempty"`
	CurTask     int    `json:"curTask"`
	Available   bool   `json:"available"`
}

// NewEndpoint returns an endpoint with default paths and limits.
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Host: host, Port: port}.WithDefaults()
}

// WithDefaults fills unset paths and limits.
func (e Endpoint) WithDefaults() Endpoint {
	if e.ServicePath == "" {
		e.ServicePath = DefaultServicePath
	}
	if e.ExplainPath == "" {
		e.ExplainPath = DefaultExplainPath
	}
	if e.InfoPath == "" {
		e.InfoPath = DefaultInfoPath
	}
	if e.CPU <= 0 {
		e.CPU = DefaultCPU
	}
	if e.MaxQueue <= 0 {
		e.MaxQueue = DefaultMaxQueue
	}
	return e
}

// Key returns "host:port", the pool key of the endpoint.
func (e Endpoint) Key() string {
	return Key(e.Host, e.Port)
}

// Key builds a pool key.
func Key(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// ServiceURL returns the URL calls are posted to.
func (e Endpoint) ServiceURL() string {
	return e.url(e.ServicePath, DefaultServicePath)
}

// InfoURL returns the statistics URL.
func (e Endpoint) InfoURL() string {
	return e.url(e.InfoPath, DefaultInfoPath)
}

func (e Endpoint) url(path, def string) string {
	if path == "" {
		path = def
	}
	return fmt.Sprintf("http://%s:%d%s", e.Host, e.Port, path)
}

// HostPort is an endpoint address.
type HostPort struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}
