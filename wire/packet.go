// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package wire

// Packet framing constants.
//
// /**
//  * Packet format:
//  * uint16_t thread_id;  // bit 15: compressed payload
//  * uint16_t size;       // payload bytes, <= MaxPacketPayload
//  * uint8_t  payload[size];
//  *
//  * Compressed payload:
//  * uint16_t decoded_size;  // <= MaxPacketPayload
//  * uint8_t  block[size - 2];
//  */
const (
	// MaxPacketPayload is the hard wire ceiling on a packet's payload size.
	// It also bounds the decoded size of a compressed payload.
	MaxPacketPayload = 8192

	// PacketHeaderSize is the encoded size of a packet header.
	PacketHeaderSize = 4

	// MaxThreadID is the largest addressable thread id; the bit above it
	// flags a compressed payload.
	MaxThreadID = 0x7FFF

	// PacketCompressed is the thread id flag bit marking an LZ4 payload.
	PacketCompressed = 0x8000
)
