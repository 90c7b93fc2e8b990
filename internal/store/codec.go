package store

import "github.com/fxamacker/cbor/v2"

var (
	ccbor cbor.EncMode
	dcbor cbor.DecMode
)

func init() {
	var err error
	ccbor, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dcbor, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}
