// Package limits provides centralized size and range constants for the
// pepperlink datagram protocol, together with the validation functions the
// sender and receiver share.
//
// # Size Hierarchy
//
//   - FrameHeaderSize (12 bytes): 8-byte big-endian capture timestamp in
//     microseconds followed by a 4-byte big-endian payload length.
//
//   - MaxVideoFragment (1400 bytes): the largest datagram carrying a slice of
//     a serialized frame. Chosen to stay under a 1500 byte Ethernet MTU once
//     IP and UDP headers are added.
//
//   - MaxAudioFragment (1200 bytes): audio slices are kept smaller to leave
//     headroom on congested links.
//
//   - MaxFramePayload (3 MiB): the largest encoded image a frame header may
//     declare. Anything larger is treated as a corrupted header.
//
//   - MaxTimestampMicros (10^15): capture timestamps at or above this value
//     are rejected as garbage.
//
// # Validation Functions
//
//	if err := limits.ValidateFramePayload(payload); err != nil {
//	    // ErrPayloadEmpty or ErrPayloadTooLarge
//	}
//	if err := limits.ValidateTimestamp(ts); err != nil {
//	    // ErrTimestampOutOfRange
//	}
package limits
