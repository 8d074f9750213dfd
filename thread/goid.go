// Copyright 2026 The relock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import "runtime"

// goid returns the id of the calling goroutine by parsing the first line of
// its stack trace, which has the form "goroutine 123 [running]:".  The id is
// unique among live goroutines and is never 0.
func goid() uint64 {
	// Only the first line is needed; 64 bytes covers it.
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the numeric goroutine id from stack trace bytes.
// Returns 0 if the buffer does not start with the expected prefix.
func parseGID(buf []byte) uint64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var gid uint64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + uint64(c-'0')
	}
	return gid
}
