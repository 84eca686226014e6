// Package variant owns the broker value model.
//
// Ownership boundary:
// - Variant: in-process tagged union, may hold node-local object handles
// - Packed: wire-safe image with object handles replaced by ObjectID
// - pack/unpack against a participant-local Catalog
// - TLV codec for Packed values and argument maps
package variant
