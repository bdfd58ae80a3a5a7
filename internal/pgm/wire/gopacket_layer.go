package wire

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// CommonHeaderLayerType registers the PGM common header as a gopacket layer
// type, the same way pim.PIMMessageType registers PIM's header. This isn't
// used by the production parse path (ParseCommonHeader is the hot path and
// doesn't need gopacket's decoding machinery) — it exists so tests can
// decode a packet through gopacket and diff the result against a direct
// ParseCommonHeader call. The layer decoder itself calls
// ParseCommonHeader, so the comparison checks the gopacket wiring, not an
// independent decode.
var CommonHeaderLayerType = gopacket.RegisterLayerType(1667, gopacket.LayerTypeMetadata{
	Name:    "PGMCommonHeader",
	Decoder: gopacket.DecodeFunc(decodeCommonHeaderLayer),
})

// CommonHeaderLayer is a gopacket.Layer view of the PGM common header,
// mirroring pim.PIMMessage's embedding of layers.BaseLayer.
type CommonHeaderLayer struct {
	layers.BaseLayer
	Header Header
}

func (l *CommonHeaderLayer) LayerType() gopacket.LayerType { return CommonHeaderLayerType }

func decodeCommonHeaderLayer(data []byte, p gopacket.PacketBuilder) error {
	h, rest, err := ParseCommonHeader(data)
	if err != nil {
		return err
	}
	l := &CommonHeaderLayer{
		BaseLayer: layers.BaseLayer{Contents: data[:CommonHeaderLen], Payload: rest},
		Header:    h,
	}
	p.AddLayer(l)
	return p.NextDecoder(gopacket.LayerTypePayload)
}
