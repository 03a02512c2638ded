// Package logging provides leveled logging for the lumen server and CLI.
//
// Output always goes to stderr by default: stdout is reserved for the MCP
// stdio transport.
//
// # Log Methods
//
//	Logger.Infof()   // Shown with Verbose or Debug
//	Logger.Debugf()  // Shown only with Debug
//	Logger.Warnf()   // Always shown
//	Logger.Errorf()  // Always shown
//
// # Usage
//
//	log := logging.Logger{Verbose: cfg.Verbose}
//	log.Infof("vault unlocked for scope %s", scope)
package logging
