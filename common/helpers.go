package common

import (
	"io"

	"github.com/ledgerindex/gateway/log"
)

// CloseOrLog closes c, logging rather than returning a failure.
func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("error closing", "closer", c, "err", err)
	}
}
