// Package model wires an encoder, a vector quantizer and a decoder into the
// discrete-latent autoencoder.
//
// The autoencoder computes no loss. Forward returns every intermediate the
// trainer needs, and the two backward entry points route gradients into the
// decoder and the encoder separately so that the straight-through estimator
// and the commitment term can be applied between them.
package model

import (
	"github.com/hupe1980/vqgo/nn"
	"github.com/hupe1980/vqgo/tensor"
	"github.com/hupe1980/vqgo/vq"
)

// Output is the result of a forward pass.
type Output struct {
	// Recon is the reconstruction x̃, shaped like the input.
	Recon *tensor.Tensor
	// ZE is the continuous encoder output (B, D, H', W').
	ZE *tensor.Tensor
	// ZQ is the quantized latent grid, same shape as ZE.
	ZQ *tensor.Tensor
	// Indices holds the selected codebook entry per position in (b, h, w) order.
	Indices []int
}

// AutoEncoder is Encoder → Quantizer → Decoder.
type AutoEncoder struct {
	encoder   nn.Block
	quantizer *vq.Quantizer
	decoder   nn.Block

	ran bool
}

// New returns an autoencoder over the given blocks.
func New(encoder nn.Block, quantizer *vq.Quantizer, decoder nn.Block) *AutoEncoder {
	return &AutoEncoder{
		encoder:   encoder,
		quantizer: quantizer,
		decoder:   decoder,
	}
}

// Quantizer returns the bottleneck.
func (m *AutoEncoder) Quantizer() *vq.Quantizer { return m.quantizer }

// Codebook returns the quantizer's codebook.
func (m *AutoEncoder) Codebook() *vq.Codebook { return m.quantizer.Codebook() }

// Encode runs the encoder only. It is used to gather latents for codebook
// initialization.
func (m *AutoEncoder) Encode(x *tensor.Tensor) (*tensor.Tensor, error) {
	ze, err := m.encoder.Forward(x)
	if err != nil {
		return nil, err
	}
	if d := m.Codebook().D(); ze.Rank() != 4 || ze.Dim(1) != d {
		return nil, &tensor.ErrShapeMismatch{Op: "Encoder", Expected: []int{x.Dim(0), d, -1, -1}, Actual: ze.Shape()}
	}
	return ze, nil
}

// Forward encodes, quantizes and decodes x. The blocks cache their forward
// state so that BackwardDecoder and BackwardEncoder can be called afterwards,
// each any number of times.
func (m *AutoEncoder) Forward(x *tensor.Tensor) (*Output, error) {
	if x.Rank() != 4 {
		return nil, &tensor.ErrShapeMismatch{Op: "AutoEncoder", Expected: []int{-1, -1, -1, -1}, Actual: x.Shape()}
	}

	ze, err := m.Encode(x)
	if err != nil {
		return nil, err
	}

	zq, indices, err := m.quantizer.Quantize(ze)
	if err != nil {
		return nil, err
	}

	recon, err := m.decoder.Forward(zq)
	if err != nil {
		return nil, err
	}
	if !recon.SameShape(x) {
		return nil, &tensor.ErrShapeMismatch{Op: "Decoder", Expected: x.Shape(), Actual: recon.Shape()}
	}

	m.ran = true
	return &Output{
		Recon:   recon,
		ZE:      ze,
		ZQ:      zq,
		Indices: indices,
	}, nil
}

// BackwardDecoder accumulates decoder parameter gradients for gradRecon and
// returns the gradient with respect to z_q. The codebook receives nothing.
func (m *AutoEncoder) BackwardDecoder(gradRecon *tensor.Tensor) (*tensor.Tensor, error) {
	if !m.ran {
		return nil, nn.ErrNoForward
	}
	return m.decoder.Backward(gradRecon)
}

// BackwardEncoder accumulates encoder parameter gradients for gradZe.
func (m *AutoEncoder) BackwardEncoder(gradZe *tensor.Tensor) error {
	if !m.ran {
		return nn.ErrNoForward
	}
	_, err := m.encoder.Backward(gradZe)
	return err
}

// EncoderParams returns the encoder's parameters.
func (m *AutoEncoder) EncoderParams() []*nn.Param { return m.encoder.Params() }

// DecoderParams returns the decoder's parameters.
func (m *AutoEncoder) DecoderParams() []*nn.Param { return m.decoder.Params() }

// CodebookParams returns the codebook parameter.
func (m *AutoEncoder) CodebookParams() []*nn.Param {
	return []*nn.Param{m.Codebook().Param()}
}

// Params returns every learnable parameter: encoder, codebook, decoder.
func (m *AutoEncoder) Params() []*nn.Param {
	params := m.EncoderParams()
	params = append(params, m.CodebookParams()...)
	return append(params, m.DecoderParams()...)
}

// ZeroGrad clears all parameter gradients.
func (m *AutoEncoder) ZeroGrad() {
	nn.ZeroGrads(m.Params())
}
