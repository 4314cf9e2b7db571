// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !linux

package seqdb

import (
	"os"
)

func adviseRandom(f *os.File) error {
	return nil
}
