// Package queue defines message payloads exchanged over the message
// broker and the background consumer that runs the verification leg of
// the upload pipeline.
package queue

// CreditVerifyEvent is published when a credit record has been created
// in PENDING state and needs its authentication round-trip.  It carries
// enough to re-run verification against the stored blob without a
// second upload: the consumer streams the blob back to the
// authenticator and settles the record's status.
type CreditVerifyEvent struct {
	SerialNumber string `json:"serial_number"`
	BlobKey      string `json:"blob_key"`
	Filename     string `json:"filename"`
	OwnerID      uint64 `json:"owner_id"`
}
