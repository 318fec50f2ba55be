package redaction

import (
	"bytes"
	"testing"

	"tlsn-notary/shared"
)

const exampleTranscript = "Authorization: Bearer abc123\r\nContent-Length: 5\r\n\r\nhello"

func TestFindRanges_NoLiterals(t *testing.T) {
	transcript := []byte(exampleTranscript)

	public, private := FindRanges(transcript, nil)

	if len(private) != 0 {
		t.Fatalf("Expected no private ranges, got %v", private)
	}
	if len(public) != 1 || public[0] != (shared.Range{Start: 0, End: len(transcript)}) {
		t.Fatalf("Expected single public range [0,%d), got %v", len(transcript), public)
	}
}

func TestFindRanges_ExampleExchange(t *testing.T) {
	transcript := []byte(exampleTranscript)
	secret := []byte("abc123")

	public, private := FindRanges(transcript, [][]byte{secret})

	start := bytes.Index(transcript, secret)
	if start != 22 {
		t.Fatalf("Expected secret at offset 22, got %d", start)
	}
	wantPrivate := shared.Range{Start: start, End: start + len(secret)}
	if len(private) != 1 || private[0] != wantPrivate {
		t.Fatalf("Expected private range %v, got %v", wantPrivate, private)
	}

	wantPublic := []shared.Range{
		{Start: 0, End: start},
		{Start: start + len(secret), End: len(transcript)},
	}
	if len(public) != len(wantPublic) {
		t.Fatalf("Expected %d public ranges, got %v", len(wantPublic), public)
	}
	for i := range wantPublic {
		if public[i] != wantPublic[i] {
			t.Errorf("Public range %d: expected %v, got %v", i, wantPublic[i], public[i])
		}
	}

	for _, r := range public {
		if bytes.Contains(transcript[r.Start:r.End], secret) {
			t.Errorf("Public range %v discloses the secret", r)
		}
	}
}

func TestFindRanges_WholeTranscriptLiteral(t *testing.T) {
	transcript := []byte("secret-token")

	public, private := FindRanges(transcript, [][]byte{transcript})

	if len(public) != 0 {
		t.Errorf("Expected zero public ranges, got %v", public)
	}
	if len(private) != 1 {
		t.Errorf("Expected one private range, got %v", private)
	}
}

func TestFindRanges_AbsentLiteral(t *testing.T) {
	transcript := []byte(exampleTranscript)

	public, private := FindRanges(transcript, [][]byte{[]byte("not-there"), []byte("this literal is far longer than the transcript itself, by quite a lot")})

	if len(private) != 0 {
		t.Errorf("Expected no private ranges, got %v", private)
	}
	if len(public) != 1 || public[0].Len() != len(transcript) {
		t.Errorf("Expected one full public range, got %v", public)
	}
}

func TestFindRanges_EmptyLiteralIgnored(t *testing.T) {
	transcript := []byte("abc")

	public, private := FindRanges(transcript, [][]byte{{}})

	if len(private) != 0 {
		t.Errorf("Expected empty literal to be ignored, got %v", private)
	}
	if len(public) != 1 {
		t.Errorf("Expected one public range, got %v", public)
	}
}

func TestFindRanges_RepeatedOccurrences(t *testing.T) {
	transcript := []byte("id=xy;id=xy;")

	public, private := FindRanges(transcript, [][]byte{[]byte("xy")})

	if len(private) != 2 {
		t.Fatalf("Expected two private ranges, got %v", private)
	}
	want := []shared.Range{{Start: 0, End: 3}, {Start: 5, End: 8}, {Start: 10, End: 12}}
	if len(public) != len(want) {
		t.Fatalf("Expected %v, got %v", want, public)
	}
	for i := range want {
		if public[i] != want[i] {
			t.Errorf("Public range %d: expected %v, got %v", i, want[i], public[i])
		}
	}
}

func TestFindRanges_SelfOverlappingLiteral(t *testing.T) {
	transcript := []byte("xaaay")

	public, private := FindRanges(transcript, [][]byte{[]byte("aa")})

	// "aa" matches at 1 and 2; both are kept.
	if len(private) != 2 {
		t.Fatalf("Expected overlapping matches to be kept, got %v", private)
	}
	want := []shared.Range{{Start: 0, End: 1}, {Start: 4, End: 5}}
	if len(public) != 2 || public[0] != want[0] || public[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, public)
	}
}

// A literal contained in another literal's match: the furthest end seen so
// far must bound the next public range.
func TestFindRanges_NestedLiterals(t *testing.T) {
	transcript := []byte(exampleTranscript)
	outer := []byte("abc123")
	inner := []byte("c12")

	t.Run("MaxCursor", func(t *testing.T) {
		public, private := FindRanges(transcript, [][]byte{outer, inner})
		if len(private) != 2 {
			t.Fatalf("Expected two private ranges, got %v", private)
		}
		for _, pub := range public {
			for _, priv := range private {
				if pub.Overlaps(priv) {
					t.Errorf("Public range %v overlaps private range %v", pub, priv)
				}
			}
		}
		assertTiles(t, len(transcript), public, private)
	})

	t.Run("ReferenceCursor", func(t *testing.T) {
		public, _ := FindRangesWithOptions(transcript, [][]byte{outer, inner}, FinderOptions{ReferenceCursor: true})
		last := public[len(public)-1]
		// the cursor falls back to the inner match's end, so the trailing
		// public range starts inside the outer secret
		if last.Start != 27 {
			t.Fatalf("Expected trailing public range to start at 27, got %v", last)
		}
		if transcript[last.Start] != '3' {
			t.Errorf("Expected leaked byte '3', got %q", transcript[last.Start])
		}
	})
}

func TestFindRanges_Coverage(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
		literals   []string
	}{
		{"Empty transcript", "", []string{"a"}},
		{"Adjacent", "aabb", []string{"aa", "bb"}},
		{"Prefix and suffix", "key-middle-key", []string{"key"}},
		{"Overlapping different literals", "0123456789", []string{"234", "3456", "89"}},
		{"Headers", "GET / HTTP/1.1\r\nauthorization: Bearer k\r\ncf-ray: 12\r\n\r\n", []string{"Bearer k", "12"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var literals [][]byte
			for _, l := range tc.literals {
				literals = append(literals, []byte(l))
			}
			public, private := FindRanges([]byte(tc.transcript), literals)
			assertTiles(t, len(tc.transcript), public, private)

			for i := 1; i < len(public); i++ {
				if public[i].Start < public[i-1].End {
					t.Errorf("Public ranges not sorted/disjoint: %v", public)
				}
			}
			for _, r := range public {
				if r.IsEmpty() {
					t.Errorf("Empty public range emitted: %v", public)
				}
			}
		})
	}
}

// assertTiles checks that public ranges plus merged private ranges cover
// [0, n) exactly once.
func assertTiles(t *testing.T, n int, public, private []shared.Range) {
	t.Helper()
	seen := make([]int, n)
	for _, r := range public {
		for i := r.Start; i < r.End; i++ {
			seen[i]++
		}
	}
	for _, r := range shared.ConsolidateRanges(private) {
		for i := r.Start; i < r.End; i++ {
			seen[i]++
		}
	}
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("Byte %d covered %d times (public=%v private=%v)", i, c, public, private)
		}
	}
}

func TestMask(t *testing.T) {
	transcript := []byte("hello secret world")
	masked := Mask(transcript, []shared.Range{{Start: 0, End: 6}, {Start: 12, End: 18}}, 'X')

	if string(masked) != "hello XXXXXX world" {
		t.Errorf("Expected masked transcript, got %q", masked)
	}
	if string(transcript) != "hello secret world" {
		t.Error("Mask must not modify its input")
	}
}

func TestUncovered(t *testing.T) {
	gaps := Uncovered(10, []shared.Range{{Start: 2, End: 4}, {Start: 3, End: 6}, {Start: 8, End: 10}})
	want := []shared.Range{{Start: 0, End: 2}, {Start: 6, End: 8}}
	if len(gaps) != len(want) {
		t.Fatalf("Expected %v, got %v", want, gaps)
	}
	for i := range want {
		if gaps[i] != want[i] {
			t.Errorf("Gap %d: expected %v, got %v", i, want[i], gaps[i])
		}
	}
}
