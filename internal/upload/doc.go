// Package upload validates uploaded flat files and derives their storage keys.
//
// Validation is an extension allow-list match on the lower-cased filename.
// Size limits are not checked here; the HTTP layer caps request bodies before
// a file ever reaches this package.
//
// Keys take the form
//
//	sessions/<session_id>/uploads/<32 hex chars>_<sanitized filename>
//
// or uploads/<32 hex chars>_<sanitized filename> when no session is known.
// The hex token is a random UUIDv4 without dashes, so two uploads of the same
// file never collide.
package upload
