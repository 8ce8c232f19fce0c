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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMismatchWindowReportsRepeatWithinWindow(t *testing.T) {
	w := newMismatchWindow()
	assert.False(t, w.seen(42))
	assert.True(t, w.seen(42))
}

func TestMismatchWindowAgesOutOldestEntry(t *testing.T) {
	w := newMismatchWindow()
	for i := uint16(0); i <= mismatchWindowSize; i++ {
		assert.False(t, w.seen(i))
	}
	// seq 0 has now aged out, pushed out by the mismatchWindowSize newer
	// entries 1..mismatchWindowSize.
	assert.False(t, w.seen(0))
}
