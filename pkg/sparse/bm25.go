// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sparse provides BM25-style sparse vectorization for hybrid search.
// Documents and queries are encoded into (term-hash, weight) pairs; keyword
// relevance is the dot product of the two encodings.
package sparse

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

// Vector is a sparse vector: parallel slices of term-hash indices (sorted
// ascending, unique) and weights.
type Vector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Encoder turns text into a sparse vector.
type Encoder interface {
	Encode(text string) *Vector
}

const (
	defaultK1 = 1.2
	defaultB  = 0.75

	// referenceDocLen stands in for the corpus average document length so
	// encoding stays stateless across collections.
	referenceDocLen = 256.0
)

// BM25Encoder encodes text using BM25 term-frequency saturation. Inverse
// document frequency is left to the destination, which owns corpus
// statistics; the dot product of a document and a query encoding therefore
// approximates the BM25 numerator.
type BM25Encoder struct {
	k1        float64
	b         float64
	avgDocLen float64
}

// NewBM25Encoder returns an encoder with the conventional k1=1.2, b=0.75
// parameters.
func NewBM25Encoder() *BM25Encoder {
	return &BM25Encoder{k1: defaultK1, b: defaultB, avgDocLen: referenceDocLen}
}

// Encode tokenizes text and returns BM25-weighted term hashes. Returns an
// empty vector for text with no indexable terms.
func (e *BM25Encoder) Encode(text string) *Vector {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return &Vector{}
	}

	freq := make(map[uint32]float64, len(terms))
	for _, t := range terms {
		freq[hashTerm(t)]++
	}

	docLen := float64(len(terms))
	norm := e.k1 * (1 - e.b + e.b*docLen/e.avgDocLen)

	v := &Vector{
		Indices: make([]uint32, 0, len(freq)),
		Values:  make([]float32, 0, len(freq)),
	}
	for idx := range freq {
		v.Indices = append(v.Indices, idx)
	}
	sort.Slice(v.Indices, func(i, j int) bool { return v.Indices[i] < v.Indices[j] })
	for _, idx := range v.Indices {
		tf := freq[idx]
		v.Values = append(v.Values, float32(tf*(e.k1+1)/(tf+norm)))
	}
	return v
}

// Dot returns the dot product of two sparse vectors by merge-joining their
// sorted index slices.
func Dot(a, b *Vector) float32 {
	if a == nil || b == nil {
		return 0
	}
	var sum float32
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Tokenize lowercases, splits on non-alphanumeric runes, and drops single
// characters and stopwords. Exported so destinations can share the same
// tokenization when computing keyword statistics.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
}
