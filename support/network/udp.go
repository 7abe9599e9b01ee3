// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package network

import (
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// DatagramSender exposes an interface which sends individual datagrams.
type DatagramSender interface {
	io.Closer
	SendDatagram(b []byte) error

	// MaxDatagramSize returns the maximum allowed packet size.
	//
	// This value is advisory; the DatagramSender is not responsible for
	// enforcing this size.
	MaxDatagramSize() int
}

// UDPDatagramSender returns a DatagramSender that sends through conn.
//
// UDPDatagramSender takes ownership of conn, and will close it when Close is
// called.
func UDPDatagramSender(conn *net.UDPConn) DatagramSender {
	return &udpDatagramSender{conn}
}

type udpDatagramSender struct {
	conn *net.UDPConn
}

func (uds *udpDatagramSender) SendDatagram(b []byte) error {
	_, _, err := uds.conn.WriteMsgUDP(b, nil, nil)
	return err
}

func (uds *udpDatagramSender) MaxDatagramSize() int { return MaxUDPSize }
func (uds *udpDatagramSender) Close() error         { return uds.conn.Close() }

// ResilientDatagramSender is a DatagramSender that automatically reconnects
// on failure.
//
// Long-lived periodic senders use it so that a transient socket failure only
// costs the datagrams sent while the connection was down.
type ResilientDatagramSender struct {
	// Factory creates and connects a new DatagramSender. On success, the
	// ResilientDatagramSender takes ownership of the result.
	Factory func() (DatagramSender, error)

	// base is the currently-connected DatagramSender, or nil if none is
	// currently connected.
	base DatagramSender
}

var _ DatagramSender = (*ResilientDatagramSender)(nil)

// MaxDatagramSize implements DatagramSender.
func (rds *ResilientDatagramSender) MaxDatagramSize() int { return rds.base.MaxDatagramSize() }

// Connect causes rds to try and open a new connection.
//
// If Connect fails, and rds already has an open connection, the open
// connection is left intact. If Connect succeeds, the previous connection is
// closed.
func (rds *ResilientDatagramSender) Connect() error {
	base, err := rds.Factory()
	if err != nil {
		return err
	}

	if rds.base != nil {
		_ = rds.Close()
	}
	rds.base = base
	return nil
}

// Close closes the current connection, if one is open.
//
// If no connection is open, Close does nothing.
func (rds *ResilientDatagramSender) Close() error {
	if rds.base == nil {
		return nil
	}

	err := rds.base.Close()
	rds.base = nil
	return err
}

// SendDatagram sends b through the underlying connection, connecting first
// if rds is not currently connected.
//
// If the send fails, the connection is dropped so that the next send dials a
// fresh one.
func (rds *ResilientDatagramSender) SendDatagram(b []byte) error {
	if err := rds.ensureConnected(); err != nil {
		return err
	}

	if err := rds.base.SendDatagram(b); err != nil {
		_ = rds.Close()
		return err
	}
	return nil
}

func (rds *ResilientDatagramSender) ensureConnected() error {
	if rds.base != nil {
		return nil
	}
	return rds.Connect()
}

// MulticastConn describes a UDP multicast group endpoint.
type MulticastConn struct {
	// Group is the multicast group address and port.
	Group *net.UDPAddr

	// Interface, if not nil, pins the endpoint to a single network interface.
	// Otherwise, the system chooses.
	Interface *net.Interface

	// BufferSize, if >0, is the read/write buffer size to set on new
	// connections.
	BufferSize int
}

func (mc *MulticastConn) String() string {
	if mc.Interface == nil {
		return mc.Group.String()
	}
	return fmt.Sprintf("%s on %s", mc.Group, mc.Interface.Name)
}

// Dial creates a UDP connection that sends to the group.
//
// If successful, the caller is responsible for closing the connection.
func (mc *MulticastConn) Dial() (*net.UDPConn, error) {
	conn, err := net.DialUDP("udp4", nil, mc.Group)
	if err != nil {
		return nil, err
	}

	if mc.BufferSize > 0 {
		if err := conn.SetWriteBuffer(mc.BufferSize); err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "failed to set write buffer size to %d", mc.BufferSize)
		}
	}

	return conn, nil
}

// DatagramSender is a convenience method to generate a DatagramSender
// sending to the group.
func (mc *MulticastConn) DatagramSender() (DatagramSender, error) {
	conn, err := mc.Dial()
	if err != nil {
		return nil, err
	}
	return UDPDatagramSender(conn), nil
}

// Listen creates a UDP connection receiving the group's datagrams.
//
// If Interface is nil, the system will choose an interface. As per
// net.ListenMulticastUDP, this is not recommended.
//
// If successful, the caller is responsible for closing the connection.
func (mc *MulticastConn) Listen() (*net.UDPConn, error) {
	conn, err := net.ListenMulticastUDP("udp4", mc.Interface, mc.Group)
	if err != nil {
		return nil, err
	}

	if mc.BufferSize > 0 {
		if err := conn.SetReadBuffer(mc.BufferSize); err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "failed to set read buffer size to %d", mc.BufferSize)
		}
	}

	return conn, nil
}
