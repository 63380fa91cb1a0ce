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
	"context"

	"github.com/jtolds/gls"
)

// offload runs fn on a dedicated worker goroutine and returns a one-shot
// completion channel, the way the teacher dispatches shard work with
// gls.Go (storage/partition.go's iterateShardIndex) rather than a bare
// "go" statement. Each encode, XOR-diff, or recalc dispatch is exactly one
// such suspension point (spec.md §5, §9): the caller awaits done before
// touching the buffers fn wrote into.
func offload(fn func() error) <-chan error {
	done := make(chan error, 1)
	gls.Go(func() {
		done <- fn()
	})
	return done
}

// await blocks on a worker's completion channel, honoring cancellation the
// way an RPC or VOS suspension point would: the outer supervisor's cancel
// surfaces here without interrupting the worker itself, per spec.md §5's
// cancellation model.
func await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
