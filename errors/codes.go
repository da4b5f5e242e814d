package errors

// Codes used throughout the storage engine. Propagation policy: a caller
// that catches one of these and re-raises must not change its Code; use
// Wrap/Wrapf to add context instead.
const (
	CodeNotFound          Code = "NotFound"
	CodeAlreadyExists     Code = "AlreadyExists"
	CodeInvalidSchema     Code = "InvalidSchema"
	CodeInvalidFragment   Code = "InvalidFragment"
	CodeUnsupportedVer    Code = "UnsupportedVersion"
	CodeEncryptionMismatch Code = "EncryptionMismatch"
	CodeLockError         Code = "LockError"
	CodeCancelled         Code = "Cancelled"
	CodeIOError           Code = "IOError"
	CodeInvalidArgument   Code = "InvalidArgument"
	CodeInternalError     Code = "InternalError"
)
