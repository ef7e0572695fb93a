package ledger

// Event is the tagged variant of contract-emitted events. Decoding happens at
// the client boundary so downstream code switches exhaustively on concrete
// types instead of probing loosely-typed payloads by field name.
type Event interface {
	isEvent()
}

// RegistrationRequested is emitted when a registration submission is accepted
// and assigned a request id.
type RegistrationRequested struct {
	RequestID      int64
	Requester      string
	MetadataDigest string
}

// LandRegistered is emitted when a registration request is approved and the
// parcel is assigned its ledger id.
type LandRegistered struct {
	ParcelID       int64
	RequestID      int64
	Owner          string
	MetadataDigest string
}

// ParcelVerified is emitted when a registered parcel passes verification.
type ParcelVerified struct {
	ParcelID int64
}

// RegistrationRejected is emitted when a registration request is rejected.
type RegistrationRejected struct {
	RequestID int64
}

// TransferInitiated is emitted when an ownership transfer is opened.
type TransferInitiated struct {
	ParcelID int64
	From     string
	To       string
}

// TransferApproved is emitted when an open transfer is approved.
type TransferApproved struct {
	ParcelID int64
}

// OwnershipTransferred is emitted when a transfer is finalized. From and To
// are the ledger's view of the ownership change; To equals From when the
// transfer was a no-op.
type OwnershipTransferred struct {
	ParcelID int64
	From     string
	To       string
}

func (RegistrationRequested) isEvent() {}
func (LandRegistered) isEvent()        {}
func (ParcelVerified) isEvent()        {}
func (RegistrationRejected) isEvent()  {}
func (TransferInitiated) isEvent()     {}
func (TransferApproved) isEvent()      {}
func (OwnershipTransferred) isEvent()  {}

// FindEvent returns the first event of type T in a confirmation.
func FindEvent[T Event](c Confirmation) (T, bool) {
	for _, ev := range c.Events {
		if typed, ok := ev.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}
