package types

import (
	"github.com/defibridge/bridgedata/interaction"
	"github.com/ethereum/go-ethereum/common"
)

// InteractionInfo is an interaction as served over JSON-RPC. State is the
// derived one, so ready interactions are reported as such.
type InteractionInfo struct {
	interaction.Interaction
	DescriptorHash common.Hash `json:"descriptorHash"`
}

// NewInteractionInfo builds the response for i in the given derived state
func NewInteractionInfo(i *interaction.Interaction, state interaction.State) InteractionInfo {
	info := InteractionInfo{
		Interaction:    *i,
		DescriptorHash: i.Descriptor.Hash(),
	}
	info.State = state
	return info
}
