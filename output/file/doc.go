// Package file records decoded frames to disk.
//
// The recorder is a cycle.Sink. Frames are encoded when Send is called and
// batched in memory; a batch is written once it reaches BufferSize frames
// or when FlushInterval elapses, whichever comes first. Stop writes the
// remaining batch before closing the file.
//
// Two formats are supported:
//
//	jsonl  one frame per line, suitable for replay and line-oriented tools
//	json   indented frames separated by newlines, for inspection
//
// All frames of a process go to <directory>/<file_prefix>.<format>. With
// Append the file grows across restarts; the run_id field of each frame
// tells runs apart.
package file
