package core

import "github.com/cespare/xxhash"

func checksumOf(b []byte) uint64 { return xxhash.Sum64(b) }
