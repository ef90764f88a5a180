//go:build windows

package config

// registerSignalHandler does nothing on Windows, where SIGHUP does not
// exist; the fsnotify watcher still drives reloads.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("SIGHUP unsupported on this platform, relying on file watcher")
}
