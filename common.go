// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relock

import "runtime"

// spinDelay is used in spinloops to delay resumption of the loop.
// Usage:
//	var attempts uint
//	for try_something {
//	   attempts = spinDelay(attempts)
//	}
func spinDelay(attempts uint) uint {
	if attempts < 7 {
		for i := 0; i != 1<<attempts; i++ {
		}
		attempts++
	} else {
		runtime.Gosched()
	}
	return attempts
}
