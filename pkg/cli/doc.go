// Package cli holds what the mediamgr command needs around the library:
// configuration contexts (kubectl style) selecting a store backend, opening
// stores, registries and file stores from a context, and output formatting
// (yaml, json, table) with optional jq filtering.
//
// Configuration lives in ~/.mediamgr/config.yaml:
//
//	current_context: local
//	contexts:
//	  local:
//	    backend: badger
//	    badger:
//	      dir: /var/lib/mediamgr
//	    source:
//	      dir: ~/Pictures/inbox
//
// MEDIAMGR_* environment variables override the resolved context.
package cli
