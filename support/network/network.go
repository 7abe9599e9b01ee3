// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package network contains generic network constants and utilities.
package network

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// MaxUDPSize is the largest UDP payload size. Discovery beacons must fit
// within a single datagram.
const MaxUDPSize = 65507

// tcpKeepAlivePeriod is applied to accepted and dialed connections so that
// producers that vanish without a FIN are eventually detected.
const tcpKeepAlivePeriod = 30 * time.Second

// ParseIP4Address parses the string, v, into an IPv4 address. If v failed to
// parse, or if v did not parse into an IPv4 address, an error will be
// returned.
func ParseIP4Address(v string) (net.IP, error) {
	ip := net.ParseIP(v)
	if ip == nil {
		return nil, errors.Errorf("could not parse IP address %q", v)
	}

	ip = ip.To4()
	if ip == nil {
		return nil, errors.Errorf("unable to get IPv4 address for %q", v)
	}

	return ip, nil
}

// HostPort normalizes v into a "host:port" address. If v has no port, or an
// empty port, defaultPort is used. An empty v yields ":defaultPort" (all
// interfaces).
func HostPort(v string, defaultPort int) (string, error) {
	if v == "" {
		return ":" + strconv.Itoa(defaultPort), nil
	}

	host, port, err := net.SplitHostPort(v)
	switch {
	case err == nil:
		if port == "" {
			port = strconv.Itoa(defaultPort)
		}
		return net.JoinHostPort(host, port), nil

	case v[0] == '[':
		// Bracketed host with no port; SplitHostPort has no lenient mode.
		return "", errors.Errorf("could not parse address %q", v)

	default:
		return net.JoinHostPort(v, strconv.Itoa(defaultPort)), nil
	}
}

// ListenTCP opens a TCP listener on addr whose accepted connections have
// keep-alive probes enabled.
func ListenTCP(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %q", addr)
	}
	return keepAliveListener{l.(*net.TCPListener)}, nil
}

// DialTCP dials addr with a timeout and enables keep-alive probes on the
// resulting connection.
func DialTCP(addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   timeout,
		KeepAlive: tcpKeepAlivePeriod,
	}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %q", addr)
	}
	return conn, nil
}

type keepAliveListener struct {
	*net.TCPListener
}

func (l keepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(tcpKeepAlivePeriod)
	return conn, nil
}
