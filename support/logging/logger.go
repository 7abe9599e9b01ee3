// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging exports the leveled logging interface used throughout this
// project.
package logging

// L is the leveled logger accepted by components in this project.
//
// It is shaped so that zap's zap.SugaredLogger satisfies it directly, but any
// logger with print- and printf-style leveled methods can be used.
type L interface {
	// Print-style variants. Arguments are handled like fmt.Sprint.
	Error(args ...interface{})
	Warn(args ...interface{})
	Info(args ...interface{})
	Debug(args ...interface{})

	// Format-style variants. Arguments are handled like fmt.Sprintf.
	Errorf(fmt string, args ...interface{})
	Warnf(fmt string, args ...interface{})
	Infof(fmt string, args ...interface{})
	Debugf(fmt string, args ...interface{})
}

// Nop is an L that discards everything sent to it.
var Nop L = nopLogger{}

// Must returns l if it is a valid logger, and Nop if it is nil.
//
// Components call this on their configured Logger field so that an
// unconfigured logger is usable without nil checks at each call site.
func Must(l L) L {
	if l != nil {
		return l
	}
	return Nop
}

type nopLogger struct{}

func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Debug(args ...interface{}) {}

func (nopLogger) Errorf(fmt string, args ...interface{}) {}
func (nopLogger) Warnf(fmt string, args ...interface{})  {}
func (nopLogger) Infof(fmt string, args ...interface{})  {}
func (nopLogger) Debugf(fmt string, args ...interface{}) {}
