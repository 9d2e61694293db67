package htask

// TransferDir describes which side of a remote call a DataTransfer's
// bytes travel to.
type TransferDir uint8

const (
	// DirReceiverRead means the bytes are pulled by the receiver (egress
	// has the data; ingress reads it).
	DirReceiverRead TransferDir = iota
	// DirReceiverWrite means the bytes are pushed into a receiver-owned
	// buffer (egress ships the submitter's empty buffer; the peer's Run
	// fills its copy, and egress copies the reply's bytes back into the
	// submitter's buffer). This is the bulk-read direction.
	DirReceiverWrite
)

// DataTransfer describes one buffer that must cross the wire alongside a
// task's scalar parameters, produced by SaveStart and consumed by LoadEnd
// on the egress side.
type DataTransfer struct {
	Dir  TransferDir
	Data []byte
}
