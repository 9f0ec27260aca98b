// Package sandbox defines the sandbox record, its lifecycle states and its
// on-disk layout.
//
// A sandbox lives under <SandboxesRoot>/<id>/:
//
//	data/<pkg>/{databases,shared_prefs,files,code_cache,no_backup}
//	cache/<pkg>/
//	lib/<pkg>/
//	external/Android/data/<pkg>/{files,cache}
//	proc/
//	tmp/
//	logs/
//	security/
//
// The storage quota is not stored on the record. StorageLimit derives it
// from the attached policy, and the persisted descriptor carries a copy
// only for legacy readers.
package sandbox
