// Command pepperlink-receiver listens for a robot sender, drives capture
// sessions from an operator console and reconstructs every session into a
// video file.
//
// # Usage
//
//	pepperlink-receiver --output-dir ./videos
//
// The sender connects to the control port; the receiver then reads operator
// commands from standard input:
//
//	start <patient-id>   begin a capture session
//	stop                 end the capture and hand off
//	say <text>           make the robot speak
//	sleep | wake         robot posture
//	status               print the session state
//	exit                 stop the sender and quit
//
// Flags default to the values from pepperlink.yaml and PEPPERLINK_*
// environment variables; PEPPERLINK_CONFIG names an explicit file.
package main
