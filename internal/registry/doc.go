// Package registry tracks live client connections by identifier.
//
// The registry owns every transport it tracks: only Unregister and CloseAll close them,
// and each transport is closed exactly once. The map is guarded by a single RWMutex that
// is never held during I/O; Snapshot returns a copy so callers can write to connections
// without blocking registration or removal of unrelated ones.
package registry
