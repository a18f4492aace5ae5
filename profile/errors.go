package profile

import "errors"

var (
	// ErrDecode indicates a numeric wire code that has no logical mapping in the profile.
	ErrDecode = errors.New("tds: decode error")

	// ErrEncode indicates a logical value the profile cannot represent on the wire.
	ErrEncode = errors.New("tds: encode error")

	// ErrUnknownCentralUnit indicates an unsupported central unit type name.
	ErrUnknownCentralUnit = errors.New("tds: unknown central unit type")
)
