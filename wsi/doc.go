/*
Package wsi provides types, constants, and functions that have no other dependencies
and can be used by all packages within wsiview.  This includes leveled logging,
serialization with optional compression, and small path and size helpers.
*/
package wsi
