// Package debug contains the optional debug utilities that can be enabled
// through the server config, currently just a pprof HTTP server.
package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/sirupsen/logrus"
)

// StartUtilities spins off the services associated with debug mode.
func StartUtilities(logger *logrus.Logger, pprofPort int) {
	go startPprofServer(logger, pprofPort)
}

// startPprofServer starts an HTTP server on the configured port that responds
// with pprof output containing the stack traces of all running goroutines.
func startPprofServer(logger *logrus.Logger, pprofPort int) {
	logger.Infof("starting pprof server on port %d", pprofPort)

	if err := http.ListenAndServe(fmt.Sprintf(":%d", pprofPort), nil); err != nil {
		logger.Warnf("error starting pprof server: %v", err)
	}
}
