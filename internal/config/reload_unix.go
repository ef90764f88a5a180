//go:build !windows

package config

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler triggers a config reload on SIGHUP, the usual
// operator signal for daemons. Stops when the reloader stops.
func (r *Reloader) registerSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				r.logger.Info("reloading config on SIGHUP")
				r.Reload()
			case <-r.stopCh:
				return
			}
		}
	}()
}
