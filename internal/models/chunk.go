package models

// ChunkType identifies the kind of write record inside a transaction.
type ChunkType string

const (
	// ChunkAddContainer declares a container by blinded name.
	ChunkAddContainer ChunkType = "addContainer"
	// ChunkAddContainerSessionKey declares the container's key record.
	ChunkAddContainerSessionKey ChunkType = "addContainerSessionKey"
	// ChunkAddContainerSessionKeyShare declares one recipient's wrapped key.
	ChunkAddContainerSessionKeyShare ChunkType = "addContainerSessionKeyShare"
	// ChunkAddContainerRecord appends a sealed record.
	ChunkAddContainerRecord ChunkType = "addContainerRecord"
	// ChunkDeleteContainer requests removal of the container and its records.
	ChunkDeleteContainer ChunkType = "deleteContainer"
)

// Chunk is one typed record in a transaction's write sequence.
type Chunk struct {
	// Type selects which of the optional fields are meaningful.
	Type ChunkType `json:"type"`
	// ContainerNameHmac is the blinded container name every chunk refers to.
	ContainerNameHmac string `json:"containerNameHmac"`
	// Signature signs the wrapped session key (addContainerSessionKey).
	Signature []byte `json:"signature,omitempty"`
	// ToAccount is the share recipient (addContainerSessionKeyShare).
	ToAccount string `json:"toAccount,omitempty"`
	// SessionKeyCiphertext is the wrapped key (addContainerSessionKeyShare).
	SessionKeyCiphertext []byte `json:"sessionKeyCiphertext,omitempty"`
	// PayloadCiphertext is the sealed record (addContainerRecord).
	PayloadCiphertext *SignedPayload `json:"payloadCiphertext,omitempty"`
}
