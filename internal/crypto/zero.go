package crypto

import "runtime"

// Zero wipes key material held in b.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
