// Package wire implements the bit-exact pepperlink wire formats.
//
// # Datagram Channel
//
// A frame is serialized as a 12-byte header followed by the payload:
//
//	0                   8           12
//	+-------------------+-----------+----------------------+
//	| timestamp (BE u64)| len (BE32)| payload (len bytes)  |
//	+-------------------+-----------+----------------------+
//
// The serialized frame is split into datagrams of at most 1400 bytes and
// terminated by the literal datagram "END". Audio is delimited by the
// literal datagrams "AUDIO_START" and "AUDIO_END", each sent three times;
// "AUDIO_NONE" announces that nothing was captured.
//
// Markers carry no header: a datagram is a marker only when its bytes are
// exactly one of the tokens. Everything else is data.
//
// # Control Channel
//
// The reliable channel is line oriented. Commands are free text
// ("start 17", "stop", "speak hello"). The stop handoff is a decimal count
// terminated by "\n". Audio may follow as "AUDIO_LEN:<n>\n" plus exactly n
// raw bytes, or "AUDIO_NONE\n".
package wire
