package model

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/23skdu/fletcher-clip/internal/device"
)

const prefix = "text_model."

// Parameters returns every parameter tensor keyed by its checkpoint name, in
// forward order. The tensors are the live parameters, not copies.
func (e *CLIPTextEncoder) Parameters() *orderedmap.OrderedMap[string, device.Tensor] {
	params := orderedmap.New[string, device.Tensor]()

	params.Set(prefix+"embeddings.token_embedding.weight", e.TokenEncoder.Weight)
	params.Set(prefix+"embeddings.position_embedding.weight", e.PositionalEncoder.Weight)

	for i, layer := range e.Layers {
		p := fmt.Sprintf("%sencoder.layers.%d.", prefix, i)
		setLayerNorm(params, p+"layer_norm1", layer.LayerNorm1)
		setLinear(params, p+"self_attn.q_proj", layer.SelfAttention.Query)
		setLinear(params, p+"self_attn.k_proj", layer.SelfAttention.Key)
		setLinear(params, p+"self_attn.v_proj", layer.SelfAttention.Value)
		setLinear(params, p+"self_attn.out_proj", layer.SelfAttention.Out)
		setLayerNorm(params, p+"layer_norm2", layer.LayerNorm2)
		setLinear(params, p+"mlp.fc1", layer.FeedForward.FC1)
		setLinear(params, p+"mlp.fc2", layer.FeedForward.FC2)
	}

	setLayerNorm(params, prefix+"final_layer_norm", e.FinalLayerNorm)
	return params
}

func setLinear(params *orderedmap.OrderedMap[string, device.Tensor], name string, l *Linear) {
	params.Set(name+".weight", l.Weight)
	params.Set(name+".bias", l.Bias)
}

func setLayerNorm(params *orderedmap.OrderedMap[string, device.Tensor], name string, l *LayerNorm) {
	params.Set(name+".weight", l.Weight)
	params.Set(name+".bias", l.Bias)
}

// ParameterCount returns the number of scalar parameters.
func (e *CLIPTextEncoder) ParameterCount() int {
	total := 0
	for pair := e.Parameters().Oldest(); pair != nil; pair = pair.Next() {
		r, c := pair.Value.Dims()
		total += r * c
	}
	return total
}
