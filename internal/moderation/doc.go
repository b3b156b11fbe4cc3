// Package moderation screens user-submitted text before it is persisted.
//
// Policy is the hard gate: banned language and onion links are rejected and
// plain links are defanged. Scanner is the advisory signal: it asks the
// Perspective API for a toxicity score and degrades to a local heuristic when
// the API is not configured or unreachable.
package moderation
