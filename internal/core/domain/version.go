package domain

import (
	"bytes"
	"encoding/hex"

	"github.com/google/uuid"
)

// Version is an opaque concurrency token replaced on every write.
type Version []byte

func NewVersion() Version {
	id := uuid.New()
	return Version(id[:])
}

func (v Version) Equal(other Version) bool {
	return bytes.Equal(v, other)
}

func (v Version) Clone() Version {
	if v == nil {
		return nil
	}
	return append(Version(nil), v...)
}

func (v Version) String() string {
	return hex.EncodeToString(v)
}
