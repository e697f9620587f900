// Package reassembly implements the receiver-side state machine that turns
// a lossy, reordered stream of datagrams into a set of timestamped frame
// records and an audio blob.
//
// # State Machine
//
//	Idle --Start--> Capturing --countdown reaches 0--> Draining
//	                    |                                  |
//	                    +-------- audio complete ----------+--> Finalizing --Finalized--> Idle
//
// The Machine never reads a clock or a socket. Every Event carries the time
// it was observed, and Handle returns the Actions the owner must execute.
// This keeps every timing heuristic testable with plain values:
//
//	m := reassembly.NewMachine(reassembly.DefaultConfig())
//	m.Handle(reassembly.StartEvent(t0, "17"))
//	m.Handle(reassembly.DatagramEvent(t0, fragment))
//	for _, a := range m.Handle(reassembly.TickEvent(t0.Add(200 * time.Millisecond))) {
//	    if a.Kind == reassembly.ActionFinalize {
//	        // hand a.Result to the reconstruction engine, then:
//	        m.Handle(reassembly.FinalizedEvent(now))
//	    }
//	}
//
// # Heuristics
//
// Frame boundaries come from END markers; a reassembled buffer is kept only
// when its 12-byte header is consistent. Timestamps are admitted only when
// strictly increasing, except for a large backwards jump which is taken as a
// sender clock restart and opens a new epoch.
//
// Lost markers are compensated on Tick: inactivity completes the video, a
// missing AUDIO_START promotes the pre-audio buffer, a missing AUDIO_END is
// replaced by an idle timeout. Every threshold is a Config field.
package reassembly
