/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package requester

import (
	"container/ring"
	"sync"
)

// mismatchWindowSize bounds how many recent mismatched sequence numbers
// are remembered before the oldest ages out.
const mismatchWindowSize = 8

// mismatchWindow ages out stale mismatched-sequence state so a master
// replying repeatedly for a sequence we've already given up on doesn't
// produce one log line per stray datagram.
type mismatchWindow struct {
	mu      sync.Mutex
	samples *ring.Ring
}

func newMismatchWindow() *mismatchWindow {
	return &mismatchWindow{samples: ring.New(mismatchWindowSize)}
}

// seen records seq and reports whether it was already present in the
// window before this call.
func (w *mismatchWindow) seen(seq uint16) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.samples
	for i := 0; i < mismatchWindowSize; i++ {
		if v, ok := r.Value.(uint16); ok && v == seq {
			return true
		}
		r = r.Next()
	}
	w.samples.Value = seq
	w.samples = w.samples.Next()
	return false
}
