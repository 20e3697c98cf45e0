package main

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

// watchSignals drives the process off signalCh: SIGHUP triggers a settings
// reload, anything else starts shutdown. Only the first shutdown signal
// acts; repeats are logged once and otherwise ignored so a double Ctrl-C
// cannot cut teardown short.
func watchSignals(logger *logging.Logger, shutdownCancel context.CancelFunc, reload func(), signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool
	var loggedRepeat atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				if sig == syscall.SIGHUP {
					if logger != nil {
						logger.Info("reload signal received", nil)
					}
					if reload != nil {
						reload()
					}
					continue
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					if logger != nil {
						fields := map[string]string{}
						if sig != nil {
							fields["signal"] = sig.String()
						}
						logger.Info("shutdown signal received", fields)
					}
					if shutdownCancel != nil {
						shutdownCancel()
					}
					continue
				}
				if loggedRepeat.CompareAndSwap(false, true) && logger != nil {
					fields := map[string]string{}
					if sig != nil {
						fields["signal"] = sig.String()
					}
					logger.Info("shutdown already in progress; ignoring signal", fields)
				}
			}
		}
	}()

	return func() {
		close(done)
	}
}
