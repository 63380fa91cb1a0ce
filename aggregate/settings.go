/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package aggregate

import (
	"fmt"

	"github.com/dc0d/onexit"
)

// SettingsT mirrors the teacher's package-level configuration struct: a
// plain value type filled in by the host process before InitSettings runs.
type SettingsT struct {
	Trace               bool
	TracePrint          bool
	CreditPerInvocation int
	RecalcFraction      float64 // threshold for "full cells > k/2" — always 0.5, kept as a tunable for texture
	BufferAlignment     int
}

var Settings SettingsT = SettingsT{false, false, 1024, 0.5, 64}

// InitSettings wires global side effects from Settings the way the teacher's
// storage.InitSettings does for its own Settings value: register a shutdown
// hook, latch trace toggles.
func InitSettings() {
	if Settings.CreditPerInvocation <= 0 {
		Settings.CreditPerInvocation = 1024
	}
	onexit.Register(func() {
		if Settings.TracePrint {
			fmt.Println("aggregate: shutting down")
		}
	})
}

func trace(format string, args ...interface{}) {
	if !Settings.Trace {
		return
	}
	fmt.Printf(format+"\n", args...)
}
