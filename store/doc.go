// Package store persists platform state on disk and in external
// backends: workspace directories, workflow definition files, and the
// namespaced key/value store used for cross-run memory.
package store
