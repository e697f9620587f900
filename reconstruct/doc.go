// Package reconstruct turns a finalized session's frame records and audio
// into a constant-rate video file, optionally muxed with the audio track.
//
// Reconstruction runs in two phases. BuildPlan is pure: it orders and
// filters the records, derives the expected frame interval and the target
// duration, and plans how many filler frames to insert in each gap. The
// Engine then decodes and normalizes the images, writes them through a
// VideoWriter and hands the result to a Muxer.
//
// Both the writer and the muxer are interfaces so the engine can be tested
// without ffmpeg:
//
//	eng := reconstruct.NewEngine(cfg,
//	    reconstruct.WithVideoWriterFactory(fakeWriters),
//	    reconstruct.WithMuxer(fakeMuxer))
//	art, err := eng.Reconstruct(ctx, reconstruct.Input{Frames: recs, Audio: blob})
package reconstruct
