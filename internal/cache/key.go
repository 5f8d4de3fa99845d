package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/HerbHall/personagen/pkg/llm"
)

// keyWriter feeds length-prefixed fields into a hash. Every value has exactly
// one encoding, so no input can collapse onto another or fail to encode.
type keyWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *keyWriter) uint(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:], v)
	_, _ = w.h.Write(w.buf[:])
}

func (w *keyWriter) str(s string) {
	w.uint(uint64(len(s)))
	_, _ = io.WriteString(w.h, s)
}

func (w *keyWriter) strs(vals []string) {
	w.uint(uint64(len(vals)))
	for _, v := range vals {
		w.str(v)
	}
}

func (w *keyWriter) float(f float64) { w.uint(math.Float64bits(f)) }

// GenerateCacheKey returns a deterministic hex SHA-256 fingerprint of the
// parts of req that influence the generated text: persona identity and
// traits, whitespace-normalized context, constraints, the conversation
// window and the reference item. Logically equal requests yield equal keys
// regardless of slice ordering in set-like fields or surrounding whitespace.
func GenerateCacheKey(req *llm.GenerationRequest) string {
	if req == nil {
		return ""
	}
	w := &keyWriter{h: sha256.New()}

	p := req.Persona
	w.str(p.ID)
	w.str(p.Name)
	w.str(normalize(p.SystemInstructions))
	w.str(strings.ToLower(strings.TrimSpace(p.Tone)))
	w.strs(canonicalSet(p.PersonalityTraits))
	w.strs(canonicalSet(p.Interests))
	w.strs(canonicalSet(p.Expertise))
	w.str(strings.ToLower(p.Stance.Label))
	w.float(p.Stance.Economic)
	w.float(p.Stance.Social)
	w.float(p.Behavior.ControversyTolerance)
	w.float(p.Behavior.DebateAggression)

	w.str(normalize(req.Context))

	c := req.Constraints
	w.uint(uint64(int64(c.MaxLength)))
	w.str(strings.ToLower(strings.TrimSpace(c.RequiredTone)))
	w.strs(canonicalSet(c.ForbiddenTopics))
	if c.Temperature != nil {
		w.uint(1)
		w.float(*c.Temperature)
	} else {
		w.uint(0)
	}

	window := req.Window()
	w.uint(uint64(len(window)))
	for _, t := range window {
		w.str(t.Role)
		w.str(normalize(t.Content))
	}

	if ref := req.Reference; ref != nil {
		w.uint(1)
		w.str(ref.ID)
		w.str(normalize(ref.Title))
		w.str(normalize(ref.Source))
		w.str(normalize(ref.Summary))
	} else {
		w.uint(0)
	}

	return hex.EncodeToString(w.h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalSet lower-cases, trims, de-duplicates and sorts vals.
func canonicalSet(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
