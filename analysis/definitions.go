// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package analysis

// Definition is one interned value in a session's definition table.
type Definition struct {
	// Value is the interned string.
	Value string
	// Refs counts Lookup hits on this definition.
	Refs int
}

// Definitions is a session's table of interned strings, keyed by the
// numeric ids that later events reference.
//
// The table carries no lock of its own. During a run all mutation happens
// inside the session edit scope; readers outside OnEvent must hold the read
// guard via Session.View.
type Definitions struct {
	byID map[uint32]*Definition
}

func newDefinitions() *Definitions {
	return &Definitions{byID: map[uint32]*Definition{}}
}

// Define installs value under id. Redefining an id replaces its value and
// resets its reference count.
func (d *Definitions) Define(id uint32, value string) {
	if _, ok := d.byID[id]; !ok {
		analysisDefinitions.Inc()
	}
	d.byID[id] = &Definition{Value: value}
}

// Lookup resolves id, counting the reference. It returns "" and false for
// an id that has not been defined.
func (d *Definitions) Lookup(id uint32) (string, bool) {
	def := d.byID[id]
	if def == nil {
		return "", false
	}
	def.Refs++
	return def.Value, true
}

// Peek resolves id without counting a reference.
func (d *Definitions) Peek(id uint32) (Definition, bool) {
	def := d.byID[id]
	if def == nil {
		return Definition{}, false
	}
	return *def, true
}

// Len returns the number of defined ids.
func (d *Definitions) Len() int { return len(d.byID) }
