// Package playback implements the audio engine: one [Source] per logical sound name, backed by
// one of three delivery mechanisms behind a single play/stop/volume contract.
//
//   - DecodedBuffer: fetch the whole file, decode once, loop from memory
//   - NativeStream: hand the manifest URL to a platform media element
//   - SegmentedStream: fetch and decode playlist segments ahead of the playhead, switching
//     variants on measured throughput
//
// Loads are lazy and de-duplicated per name; failures go through a [Recoverer] before the
// source's control is disabled.
package playback
