/*
Package config defines Medlock's server configuration and data tree.

Configuration resolves in three layers: built-in development defaults,
an optional YAML file, and command-line flags applied by cmd/medlock.
Later layers win. The package also owns the on-disk data tree layout
and creates it with private permissions.

# Data Tree

All state lives under one root (DataDir), laid out for compatibility
with existing deployments:

	<dataDir>/
	├── cloud/
	│   ├── data/            ciphertext blobs (<name>.enc)
	│   ├── meta/            per-object metadata (<name>.json)
	│   └── keys/
	│       ├── srs/         srs_private.pem, srs_public.pem
	│       └── users/       <userID>_private.pem, <userID>_public.pem
	├── medlock.db           SQLite users + attributes
	├── sessions.db          bbolt session tokens
	└── audit.log            hash-chained JSONL audit log

Every directory is created mode 0700: key material and patient data
are private to the service user.

# Usage

	cfg, err := config.Load(path)   // path may be ""
	if err != nil {
		return err
	}
	// flags override file values here
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

# Config File

	# medlock.yaml
	dataDir: /var/lib/medlock
	listen: ":5000"
	sessionTTL: 12h
	cookieSecure: true
	logLevel: info
	logPretty: false

Individual storage paths (blobDir, metaDir, srsKeyDir, userKeyDir,
dbPath, auditPath, sessionDBPath) may be set explicitly to split the
tree across filesystems; unset paths derive from dataDir.

# Integration Points

  - cmd/medlock: loads the file, applies flag overrides, validates
  - cmd/medlock-reset: reuses the path derivation to locate state
  - pkg/keystore, pkg/meta, pkg/blobstore, pkg/audit, pkg/identity,
    pkg/session: each receives its path from this package
*/
package config
