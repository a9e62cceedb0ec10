// Package memory provides in-process implementations of every domain port.
// They honour the same atomicity contracts as the Postgres adapters and back
// the tests and the STORE_DRIVER=memory mode.
package memory
