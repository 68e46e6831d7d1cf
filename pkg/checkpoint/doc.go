// Package checkpoint provides the file-backed CheckpointStore.
//
// Each job owns a directory under the store root holding checkpoint.json and
// checkpoint.json.bak, the immediately prior version. Saves write a temporary
// file and rename it into place, so readers never observe a partial document.
//
// A database-backed store with the same contract lives in pkg/storage.
package checkpoint
