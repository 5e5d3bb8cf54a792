package assistant

import (
	"log"
	"os"
	"strings"
)

var assistantDebugEnabled = strings.EqualFold(os.Getenv("SHOPCHAT_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if assistantDebugEnabled {
		log.Printf(format, args...)
	}
}
