package fragment

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const idLength = 20

// ID derives the fragment id from its source and position. The same
// (source, position) pair always yields the same id.
func ID(source string, position int) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(position)))
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}
