// Package cli contains helpers for command line arguments.
package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseTCPAddrArg resolves host:port, host or :port. Missing parts are replaced by the defaults.
func ParseTCPAddrArg(arg string, defaultHost string, defaultPort int) (*net.TCPAddr, error) {
	host, port := splitHostPort(arg)
	if host == "" {
		host = defaultHost
	}
	if port == "" {
		port = strconv.Itoa(defaultPort)
	}

	return net.ResolveTCPAddr("tcp", net.JoinHostPort(host, port))
}

func splitHostPort(hostport string) (host, port string) {
	host = hostport

	colon := strings.LastIndexByte(host, ':')
	if colon != -1 && validOptionalPort(host[colon:]) {
		host, port = host[:colon], host[colon+1:]
	}

	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	return
}

func validOptionalPort(port string) bool {
	if port == "" {
		return true
	}
	if port[0] != ':' {
		return false
	}
	for _, b := range port[1:] {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

// FormatFrequency returns the frequency in MHz with Hz resolution.
func FormatFrequency(hz float64) string {
	return fmt.Sprintf("%.6f MHz", hz/1e6)
}
