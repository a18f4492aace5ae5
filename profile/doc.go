// Package profile describes the wire-format generations spoken by a central unit.
//
// A Profile is an immutable value holding the frame start byte, the acknowledge
// byte, the checksum strategy, the keep-alive strategy and three lookup tables:
//
//   - Command → numeric code and ordered parameter layout
//   - Function → numeric code
//   - (Function, State) → numeric state value, and back
//
// Two generations are provided: [Micros] (older, single byte output numbers) and
// [MicrosPlus] (newer, central unit byte and two byte output numbers). Codes are
// not shared between generations; the motor function is 55 on Micros and 6 on
// MicrosPlus, and UP encodes as 255 and 1 respectively. State lookups are always
// scoped by Function: the value 1 is UP for a MicrosPlus motor but has no meaning
// for a relay.
//
// Lookups of unknown numeric codes fail with [ErrDecode]; logical values a
// profile cannot express fail with [ErrEncode].
package profile
