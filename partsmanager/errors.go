package partsmanager

import "github.com/rustgram/client/internal/coreerr"

// Error constructors for the small set of failures this package can
// produce, expressed through the unified error contract.

func errInvalidPartSize() *coreerr.Error {
	return coreerr.InvalidValue("part_size", "exceeds the maximum allowed part size")
}

func errFileTooLarge() *coreerr.Error {
	return coreerr.InvalidValue("size", "exceeds the maximum allowed file size")
}

func errNotReady() *coreerr.Error {
	return coreerr.New(coreerr.KindManager, "not all parts are ready")
}

func errInvalidPartID(id int32) *coreerr.Error {
	return coreerr.InvalidValue("part_id", "out of range")
}

func errInvalidSize() *coreerr.Error {
	return coreerr.InvalidValue("size", "must be non-negative")
}
