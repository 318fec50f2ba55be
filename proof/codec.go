package proof

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"tlsn-notary/shared"
)

// EncodeJSON renders a proof as indented JSON.
func EncodeJSON(p *TLSProof) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a proof produced by EncodeJSON.
func DecodeJSON(data []byte) (*TLSProof, error) {
	var p TLSProof
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proof JSON: %w", err)
	}
	return &p, nil
}

// Field numbers of the binary encoding.
const (
	fieldProofSession    protowire.Number = 1
	fieldProofSubstrings protowire.Number = 2

	fieldSessionHeader    protowire.Number = 1
	fieldSessionSignature protowire.Number = 2
	fieldSessionNotary    protowire.Number = 3

	fieldHeaderSessionID       protowire.Number = 1
	fieldHeaderServerName      protowire.Number = 2
	fieldHeaderSentLen         protowire.Number = 3
	fieldHeaderRecvLen         protowire.Number = 4
	fieldHeaderCommitmentRoot  protowire.Number = 5
	fieldHeaderCommitmentCount protowire.Number = 6
	fieldHeaderHandshakeTime   protowire.Number = 7
	fieldHeaderNotarizedAt     protowire.Number = 8

	fieldSubstringsOpening protowire.Number = 1

	fieldOpeningID        protowire.Number = 1
	fieldOpeningDirection protowire.Number = 2
	fieldOpeningStart     protowire.Number = 3
	fieldOpeningEnd       protowire.Number = 4
	fieldOpeningData      protowire.Number = 5
	fieldOpeningBlinder   protowire.Number = 6
	fieldOpeningPath      protowire.Number = 7

	fieldNodeHash protowire.Number = 1
	fieldNodeLeft protowire.Number = 2
)

var errTruncated = errors.New("truncated proof encoding")

// MarshalBinary encodes the proof in protobuf wire format.
func (p *TLSProof) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendMessage(b, fieldProofSession, p.Session.appendWire(nil))
	b = appendMessage(b, fieldProofSubstrings, p.Substrings.appendWire(nil))
	return b, nil
}

// UnmarshalBinary decodes a proof produced by MarshalBinary.
func (p *TLSProof) UnmarshalBinary(data []byte) error {
	*p = TLSProof{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldProofSession:
			return p.Session.unmarshalWire(v)
		case fieldProofSubstrings:
			return p.Substrings.unmarshalWire(v)
		}
		return nil
	})
}

// SigningBytes is the canonical encoding of the header that the notary signs.
func (h *SessionHeader) SigningBytes() []byte {
	return h.appendWire(nil)
}

func (h *SessionHeader) appendWire(b []byte) []byte {
	b = appendString(b, fieldHeaderSessionID, h.SessionID)
	b = appendString(b, fieldHeaderServerName, h.ServerName)
	b = appendVarint(b, fieldHeaderSentLen, uint64(h.SentLen))
	b = appendVarint(b, fieldHeaderRecvLen, uint64(h.RecvLen))
	b = appendBytes(b, fieldHeaderCommitmentRoot, h.CommitmentRoot)
	b = appendVarint(b, fieldHeaderCommitmentCount, uint64(h.CommitmentCount))
	b = appendVarint(b, fieldHeaderHandshakeTime, uint64(h.HandshakeTime))
	b = appendVarint(b, fieldHeaderNotarizedAt, uint64(h.NotarizedAt))
	return b
}

func (h *SessionHeader) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldHeaderSessionID:
			h.SessionID = string(v)
		case fieldHeaderServerName:
			h.ServerName = string(v)
		case fieldHeaderSentLen:
			h.SentLen = int(n)
		case fieldHeaderRecvLen:
			h.RecvLen = int(n)
		case fieldHeaderCommitmentRoot:
			h.CommitmentRoot = cloneBytes(v)
		case fieldHeaderCommitmentCount:
			h.CommitmentCount = int(n)
		case fieldHeaderHandshakeTime:
			h.HandshakeTime = int64(n)
		case fieldHeaderNotarizedAt:
			h.NotarizedAt = int64(n)
		}
		return nil
	})
}

func (s *SessionProof) appendWire(b []byte) []byte {
	b = appendMessage(b, fieldSessionHeader, s.Header.appendWire(nil))
	b = appendBytes(b, fieldSessionSignature, s.Signature)
	b = appendString(b, fieldSessionNotary, s.NotaryAddress)
	return b
}

func (s *SessionProof) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldSessionHeader:
			return s.Header.unmarshalWire(v)
		case fieldSessionSignature:
			s.Signature = cloneBytes(v)
		case fieldSessionNotary:
			s.NotaryAddress = string(v)
		}
		return nil
	})
}

func (s *SubstringsProof) appendWire(b []byte) []byte {
	for i := range s.Openings {
		b = appendMessage(b, fieldSubstringsOpening, s.Openings[i].appendWire(nil))
	}
	return b
}

func (s *SubstringsProof) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != fieldSubstringsOpening {
			return nil
		}
		var o Opening
		if err := o.unmarshalWire(v); err != nil {
			return err
		}
		s.Openings = append(s.Openings, o)
		return nil
	})
}

func (o *Opening) appendWire(b []byte) []byte {
	b = appendVarint(b, fieldOpeningID, uint64(o.ID))
	b = appendVarint(b, fieldOpeningDirection, uint64(o.Direction))
	b = appendVarint(b, fieldOpeningStart, uint64(o.Range.Start))
	b = appendVarint(b, fieldOpeningEnd, uint64(o.Range.End))
	b = appendBytes(b, fieldOpeningData, o.Data)
	b = appendBytes(b, fieldOpeningBlinder, o.Blinder)
	for _, node := range o.Path {
		var nb []byte
		nb = appendBytes(nb, fieldNodeHash, node.Hash)
		nb = appendVarint(nb, fieldNodeLeft, protowire.EncodeBool(node.Left))
		b = appendMessage(b, fieldOpeningPath, nb)
	}
	return b
}

func (o *Opening) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldOpeningID:
			o.ID = uint32(n)
		case fieldOpeningDirection:
			o.Direction = shared.Direction(n)
		case fieldOpeningStart:
			o.Range.Start = int(n)
		case fieldOpeningEnd:
			o.Range.End = int(n)
		case fieldOpeningData:
			o.Data = cloneBytes(v)
		case fieldOpeningBlinder:
			o.Blinder = cloneBytes(v)
		case fieldOpeningPath:
			var node ProofNode
			err := consumeFields(v, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
				switch num {
				case fieldNodeHash:
					node.Hash = cloneBytes(v)
				case fieldNodeLeft:
					node.Left = protowire.DecodeBool(n)
				}
				return nil
			})
			if err != nil {
				return err
			}
			o.Path = append(o.Path, node)
		}
		return nil
	})
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytes(b, num, msg)
}

// consumeFields walks a wire-format message. Varint fields are passed as n,
// length-delimited fields as v; other wire types are skipped.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(tagLen))
		}
		data = data[tagLen:]

		switch typ {
		case protowire.VarintType:
			n, l := protowire.ConsumeVarint(data)
			if l < 0 {
				return fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(l))
			}
			if err := fn(num, typ, nil, n); err != nil {
				return err
			}
			data = data[l:]
		case protowire.BytesType:
			v, l := protowire.ConsumeBytes(data)
			if l < 0 {
				return fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(l))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			data = data[l:]
		default:
			l := protowire.ConsumeFieldValue(num, typ, data)
			if l < 0 {
				return fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(l))
			}
			data = data[l:]
		}
	}
	return nil
}

func cloneBytes(v []byte) []byte {
	if len(v) == 0 {
		return nil
	}
	return append([]byte(nil), v...)
}
