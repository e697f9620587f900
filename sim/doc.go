// Package sim provides synthetic capture devices for running the sender
// without robot hardware: a camera that emits JPEG test patterns, a
// microphone that records a sine tone and a robot that logs its commands.
//
// All devices take a clock so tests can drive them deterministically.
package sim
