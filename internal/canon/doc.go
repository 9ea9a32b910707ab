// Package canon provides the canonical value tree and byte-exact JSON
// serialization used for identity hashing and payload checksums.
//
// canon imports nothing internal. Every other package that needs a
// deterministic byte representation goes through Marshal.
//
// Key rules:
//   - Object keys are sorted by byte-wise ordinal comparison of their UTF-8 form
//   - No insignificant whitespace anywhere
//   - Numbers are exact decimals rendered without exponent and without
//     trailing fractional zeros ("12.50" and "1.25e1" both render as "12.5")
//   - Only '"', '\\' and U+0000-U+001F are escaped inside strings
//   - Arrays keep caller order
//   - String values are NOT normalized by Marshal; identity components are
//     normalized up front with String so ciphertext round-trips byte for byte
package canon
