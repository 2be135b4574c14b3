// Package logging configures the shared logger for the Equilibria gateway.
//
// All packages log through the standard logrus logger. Setup installs the
// gateway formatter once and switches output between stdout and a rotating
// file depending on configuration.
package logging
