package env

import (
	"github.com/thatsimonsguy/room-controller/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var Cfg *config.Config
