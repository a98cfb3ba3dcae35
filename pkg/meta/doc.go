// Package meta stores one JSON metadata record per protected object.
//
// Records live as individual files (`<name>.json`) so operators can
// inspect or quarantine a single object without tooling:
//
//	{
//	  "owner": "<user id>",
//	  "file": "report.txt",
//	  "policy": "Role:Doctor",
//	  "key_blob": "<hex, wrapped content key>",
//	  "iv": "<hex>",
//	  "mode": "client_side_encryption",
//	  "revoked_users": []
//	}
//
// This file format is a contract shared with the bootstrap and reset
// tooling; field names and hex encodings must not change.
//
// Writes replace atomically via temp file + rename, and Update holds
// a per-object lock across its read-modify-write so two concurrent
// revocations on one object cannot lose each other. Object names are
// validated as single path elements before any join; nothing here
// ever touches a path outside its directory.
package meta
