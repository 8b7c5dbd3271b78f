// Package rlog is the logrus-backed warning sink the scanner treats as
// an opaque, thread-safe collaborator: every AG worker may call Warnf
// concurrently without additional locking.
package rlog

import (
	"fmt"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the surface the scan core depends on. It never panics and
// never terminates the process; fatal conditions are reported up the
// call stack as errors by the caller, not through this interface.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	IsDebugEnabled() bool
}

// CLI is a Logger backed by logrus, colorized the way a terminal
// session expects. It also counts warnings/errors emitted so the
// command can report the testable "zero warnings on a clean image"
// property without re-deriving it from log output.
type CLI struct {
	Verbose bool
	NoColor bool

	warnings uint64
	errors   uint64
}

func (c *CLI) Debugf(format string, args ...interface{}) {
	if c.Verbose {
		logrus.Debugf(format, args...)
	}
}

func (c *CLI) Infof(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

func (c *CLI) Warnf(format string, args ...interface{}) {
	atomic.AddUint64(&c.warnings, 1)
	logrus.Warnf("%s", c.colorize(color.FgYellow, fmt.Sprintf(format, args...)))
}

func (c *CLI) Errorf(format string, args ...interface{}) {
	atomic.AddUint64(&c.errors, 1)
	logrus.Errorf("%s", c.colorize(color.FgRed, fmt.Sprintf(format, args...)))
}

func (c *CLI) IsDebugEnabled() bool {
	return c.Verbose
}

// Warnings returns the number of Warnf calls made so far.
func (c *CLI) Warnings() uint64 {
	return atomic.LoadUint64(&c.warnings)
}

// Errors returns the number of Errorf calls made so far.
func (c *CLI) Errors() uint64 {
	return atomic.LoadUint64(&c.errors)
}

func (c *CLI) colorize(attr color.Attribute, s string) string {
	if c.NoColor {
		return s
	}
	return color.New(attr).Sprint(s)
}
