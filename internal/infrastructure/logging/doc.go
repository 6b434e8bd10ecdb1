// Package logging builds the structured slog loggers tempmon uses.
//
// Every record carries service and version fields. The console gets JSON or
// text at the configured level; an optional file sink receives JSON records
// at its own, usually higher, level:
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: text       # json, text
//	  output: stdout     # stdout, stderr
//	  file:
//	    path: ./data/app.log
//	    level: error
//
// Typical use:
//
//	logger, err := logging.Open(cfg.Logging, version, cfg.Dev.DebugMode)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Info("device added", "address", "192.168.0.42")
package logging
