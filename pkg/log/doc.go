/*
Package log provides structured logging for Bastion using zerolog.

The log package wraps zerolog to provide JSON or human-readable console
logging with component-specific child loggers, configurable level, and
helper functions for common logging patterns. Every background loop in the
Hub and Agent (scheduler, agent manager, snapshot workers, maintenance)
attaches its own component logger via WithComponent so log lines can be
filtered per subsystem without grepping.
*/
package log
