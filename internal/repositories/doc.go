// Package repositories implements SQLite persistence for the state the mixer keeps between runs.
//
// Key Implementations:
//   - [OverrideRepository] : local file overrides keyed by sound name
//   - [PreferencesRepository] : the single saved-mix row (master volume, active mode, playing set)
//
// Missing rows surface as [shared.ErrNotFound]. Preferences never fail on an empty database;
// [PreferencesRepository.Load] returns [models.DefaultPreferences] instead.
package repositories
