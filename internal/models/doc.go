// Package models defines the persisted entities of the mixer and the repository contract used to store them.
//
//   - [Override] : a user-supplied local file that replaces a catalog sound
//   - [Preferences] : the last saved mix (master volume, active mode, playing sounds)
//
// Persistent entities implement [Model]; [Repository] defines CRUD access keyed by [Model.ID].
package models
