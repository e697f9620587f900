// Package control implements both ends of the reliable TCP control channel.
//
// The receiver side runs a Controller: it accepts the sender's connection,
// issues commands and, on stop, collects the remaining-frame count and the
// optional audio handoff, forwarding both to the reassembly Session.
//
// The sender side runs an Agent: it reads commands, dispatches them to the
// Device and answers stop with the count line followed by either
// "AUDIO_LEN:<n>\n" and n bytes, or "AUDIO_NONE\n". When audio travels on
// the datagram path instead, the Agent only writes the count and hands the
// audio to an AudioSink.
package control
