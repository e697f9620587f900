// Command pepperlink-sender runs the robot side of pepperlink with
// synthetic devices: a test pattern camera, a tone microphone and a robot
// that logs its commands. It connects to a receiver's control port and
// streams captures over the datagram path until the receiver sends exit.
//
// # Usage
//
//	pepperlink-sender --host 192.168.1.20 --fps 15
//
// Flags default to the values from pepperlink.yaml and PEPPERLINK_*
// environment variables; PEPPERLINK_CONFIG names an explicit file.
package main
