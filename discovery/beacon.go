// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// BeaconVersion is the beacon format version emitted by this package.
const BeaconVersion = 1

// DefaultPort is the UDP port daemons announce on.
const DefaultPort = 1988

// beaconMagic identifies a daemon beacon datagram.
var beaconMagic = [4]byte{'T', 'R', 'C', 'B'}

// DefaultGroup returns the organization-local multicast group that beacons
// are announced to.
func DefaultGroup() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.IP{239, 101, 84, 83},
		Port: DefaultPort,
	}
}

// Beacon is the fixed announcement a daemon multicasts.
//
// /**
//  * Beacon format:
//  * uint8_t  magic[4];  // "TRCB"
//  * uint8_t  version;
//  * uint16_t control_port;
//  * uint16_t recorder_port;
//  * uint8_t  host_len;
//  * uint8_t  host[host_len];
//  */
type Beacon struct {
	Magic        [4]byte
	Version      uint8
	ControlPort  uint16 `struc:",little"`
	RecorderPort uint16 `struc:",little"`
	HostLen      int    `struc:"uint8,sizeof=Host"`
	Host         string
}

// NewBeacon returns a beacon for the current format version.
func NewBeacon(host string, controlPort, recorderPort int) *Beacon {
	return &Beacon{
		Magic:        beaconMagic,
		Version:      BeaconVersion,
		ControlPort:  uint16(controlPort),
		RecorderPort: uint16(recorderPort),
		Host:         host,
	}
}

// WritePacket writes the beacon to w.
func (b *Beacon) WritePacket(w io.Writer) error {
	if len(b.Host) > 0xFF {
		return errors.Errorf("host name %q is too long", b.Host)
	}
	return struc.Pack(w, b)
}

// ParseBeacon parses a beacon from the provided datagram.
//
// If the beacon is invalid, or if all of the data was not consumed, an error
// will be returned.
func ParseBeacon(data []byte) (*Beacon, error) {
	var b Beacon
	r := bytes.NewReader(data)

	if err := struc.Unpack(r, &b); err != nil {
		return nil, errors.Wrap(err, "could not unpack beacon")
	}

	if !bytes.Equal(b.Magic[:], beaconMagic[:]) {
		return nil, errors.Errorf("invalid beacon magic %q", b.Magic[:])
	}
	if b.Version == 0 || b.Version > BeaconVersion {
		return nil, errors.Errorf("unsupported beacon version %d", b.Version)
	}
	if r.Len() != 0 {
		return nil, errors.Errorf("%d trailing byte(s) after beacon", r.Len())
	}

	return &b, nil
}

func (b *Beacon) String() string {
	return fmt.Sprintf("Daemon{host=%q, control_port=%d, recorder_port=%d, version=%d}",
		b.Host, b.ControlPort, b.RecorderPort, b.Version)
}
