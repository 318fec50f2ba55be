package proof

import (
	"bytes"
	"encoding/json"
	"testing"

	"tlsn-notary/shared"
)

func sampleProof(t *testing.T) *TLSProof {
	t.Helper()
	transcript := []byte("GET / HTTP/1.1\r\nauthorization: Bearer k\r\n\r\n")
	ranges := []shared.Range{{Start: 0, End: 31}, {Start: 39, End: len(transcript)}}

	var leaves [][]byte
	var openings []Opening
	for i, r := range ranges {
		blinder := bytes.Repeat([]byte{byte(i + 1)}, 16)
		leaves = append(leaves, CommitmentHash(shared.DirectionSent, r, blinder, transcript[r.Start:r.End]))
		openings = append(openings, Opening{
			ID:        uint32(i),
			Direction: shared.DirectionSent,
			Range:     r,
			Data:      HexBytes(transcript[r.Start:r.End]),
			Blinder:   HexBytes(blinder),
		})
	}
	tree := BuildMerkleTree(leaves)
	for i := range openings {
		path, err := tree.InclusionPath(i)
		if err != nil {
			t.Fatalf("InclusionPath failed: %v", err)
		}
		openings[i].Path = path
	}

	return &TLSProof{
		Session: SessionProof{
			Header: SessionHeader{
				SessionID:       "5f0c",
				ServerName:      "api.red-pill.ai",
				SentLen:         len(transcript),
				RecvLen:         120,
				CommitmentRoot:  HexBytes(tree.Root()),
				CommitmentCount: len(leaves),
				HandshakeTime:   1700000000,
				NotarizedAt:     1700000005,
			},
			Signature:     HexBytes(bytes.Repeat([]byte{0xab}, shared.EthSignatureLength)),
			NotaryAddress: "0x00000000000000000000000000000000000000aa",
		},
		Substrings: SubstringsProof{Openings: openings},
	}
}

func TestProofJSONRoundTrip(t *testing.T) {
	p := sampleProof(t)

	encoded, err := EncodeJSON(p)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	if !bytes.Contains(encoded, []byte(`"direction": "sent"`)) {
		t.Errorf("Expected direction to encode as text, got:\n%s", encoded)
	}
	if !bytes.Contains(encoded, []byte("\n  ")) {
		t.Error("Expected indented JSON")
	}

	decoded, err := DecodeJSON(encoded)
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	reencoded, err := EncodeJSON(decoded)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Errorf("JSON round trip changed the proof:\n%s\n---\n%s", encoded, reencoded)
	}
}

func TestProofBinaryRoundTrip(t *testing.T) {
	p := sampleProof(t)

	encoded, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	var decoded TLSProof
	if err := decoded.UnmarshalBinary(encoded); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}

	if decoded.Session.Header.SessionID != p.Session.Header.SessionID {
		t.Errorf("Expected session id %s, got %s", p.Session.Header.SessionID, decoded.Session.Header.SessionID)
	}
	if len(decoded.Substrings.Openings) != len(p.Substrings.Openings) {
		t.Fatalf("Expected %d openings, got %d", len(p.Substrings.Openings), len(decoded.Substrings.Openings))
	}
	for i, o := range decoded.Substrings.Openings {
		want := p.Substrings.Openings[i]
		if o.Range != want.Range || o.Direction != want.Direction || !bytes.Equal(o.Data, want.Data) {
			t.Errorf("Opening %d mismatch: expected %+v, got %+v", i, want, o)
		}
		if len(o.Path) != len(want.Path) {
			t.Errorf("Opening %d: expected path length %d, got %d", i, len(want.Path), len(o.Path))
		}
	}

	// JSON of both sides must agree byte for byte
	a, _ := json.Marshal(p)
	b, _ := json.Marshal(&decoded)
	if !bytes.Equal(a, b) {
		t.Errorf("Binary round trip changed the proof:\n%s\n---\n%s", a, b)
	}

	if _, err := (&TLSProof{}).MarshalBinary(); err != nil {
		t.Errorf("Empty proof should encode: %v", err)
	}
	if err := decoded.UnmarshalBinary(encoded[:len(encoded)-3]); err == nil {
		t.Error("Expected error for truncated encoding")
	}
}

func TestSigningBytesDeterministic(t *testing.T) {
	p := sampleProof(t)
	h := p.Session.Header

	if !bytes.Equal(h.SigningBytes(), h.SigningBytes()) {
		t.Fatal("SigningBytes must be deterministic")
	}
	changed := h
	changed.RecvLen++
	if bytes.Equal(h.SigningBytes(), changed.SigningBytes()) {
		t.Error("SigningBytes must cover every header field")
	}
}

func TestMerkleInclusion(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		var leaves [][]byte
		for i := 0; i < n; i++ {
			leaves = append(leaves, CommitmentHash(shared.DirectionReceived, shared.Range{Start: i, End: i + 1}, nil, []byte{byte(i)}))
		}
		tree := BuildMerkleTree(leaves)
		for i := range leaves {
			path, err := tree.InclusionPath(i)
			if err != nil {
				t.Fatalf("n=%d: InclusionPath(%d) failed: %v", n, i, err)
			}
			if !VerifyInclusion(leaves[i], path, tree.Root()) {
				t.Errorf("n=%d: leaf %d failed to verify", n, i)
			}
			if VerifyInclusion(leaves[(i+1)%n], path, tree.Root()) && n > 1 {
				t.Errorf("n=%d: wrong leaf verified at %d", n, i)
			}
		}
	}

	if _, err := BuildMerkleTree(nil).InclusionPath(0); err == nil {
		t.Error("Expected error for empty tree")
	}
}

func TestCommitmentHashBindsRange(t *testing.T) {
	data := []byte("hello")
	a := CommitmentHash(shared.DirectionSent, shared.Range{Start: 0, End: 5}, []byte("b"), data)
	b := CommitmentHash(shared.DirectionSent, shared.Range{Start: 1, End: 6}, []byte("b"), data)
	c := CommitmentHash(shared.DirectionReceived, shared.Range{Start: 0, End: 5}, []byte("b"), data)
	if bytes.Equal(a, b) || bytes.Equal(a, c) {
		t.Error("Commitment must bind offsets and direction")
	}
}
