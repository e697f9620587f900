// Package pepperlink streams video frames and an audio recording from a
// robot to a workstation over a lossy datagram path, driven by a reliable
// control channel, and rebuilds each capture session into a video file
// whose playback speed matches real time.
//
// # Architecture
//
// The sender splits every encoded frame into MTU-sized datagrams terminated
// by an END marker (package chunker). The receiver reassembles frames in a
// single-owner state machine that tolerates lost, duplicated and reordered
// datagrams (package reassembly), and completes a session when the frame
// countdown handed off over the control channel reaches zero and the audio
// is in (package control). The reconstruction engine then orders the
// frames by capture timestamp, fills large gaps with repeated frames and
// picks a frame rate so the video lasts as long as the audio (package
// reconstruct).
//
// # Roles
//
//	sender    camera, microphone and robot behind a command agent
//	receiver  reassembly worker, reconstruction and the operator controller
//
// Both roles are wired in cmd/pepperlink-sender and cmd/pepperlink-receiver.
// Configuration comes from pepperlink.yaml and PEPPERLINK_* variables
// (package config); metrics are exposed for Prometheus (package metrics).
//
// # Testing
//
// Package simnet provides a deterministic lossy link and package sim
// provides synthetic devices, so the whole pipeline runs without hardware
// or a real network.
package pepperlink
