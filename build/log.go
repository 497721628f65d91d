package build

import (
	logx "github.com/ije/gox/log"
)

var log = &logx.Logger{}

// SetLogger sets the logger used by the build package.
func SetLogger(logger *logx.Logger) {
	log = logger
}
