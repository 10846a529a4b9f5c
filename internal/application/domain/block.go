package domain

type Eth1Data struct {
	DepositRoot  Root
	DepositCount uint64
	BlockHash    Root
}

type BeaconBlockHeader struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	ParentRoot    Root
	StateRoot     Root
	BodyRoot      Root
}

// BlockHeaderDraft carries the fields a proposer chooses before the body is assembled.
type BlockHeaderDraft struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	ParentRoot    Root
	RandaoReveal  BLSSignature
	Eth1Data      Eth1Data
	Graffiti      [32]byte
}

// UnsignedBlock is an assembled block ready to be signed. Header, Eth1Data
// and Version are read back from what the assembler built. Payload is owned
// by the assembler and handed back unchanged on publish.
type UnsignedBlock struct {
	Draft    BlockHeaderDraft
	Root     Root
	Header   BeaconBlockHeader
	Eth1Data Eth1Data
	Version  string
	Payload  any
}

type SignedBlock struct {
	Block     UnsignedBlock
	Signature BLSSignature
}
