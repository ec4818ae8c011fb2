// Package preference encodes a user's matching preferences (languages,
// difficulties, topics) into fixed-width bitstrings and a compact hex
// preference code, and answers whether two encoded preference sets overlap.
//
// Bit i of a dimension's bitstring is set iff the i-th member of that
// dimension's enumeration (in declaration order) was selected. The
// declaration order below is therefore part of the wire format: append new
// members, never reorder.
package preference

import "strings"

// Enumeration is an ordered, fixed set of upper-case values. Its member
// count is the width of every bitstring encoded against it.
type Enumeration struct {
	Name    string
	Members []string
}

// Languages, Difficulties and Topics are the three preference dimensions.
var (
	Languages = Enumeration{
		Name:    "language",
		Members: []string{"PYTHON", "JAVA", "CPP", "JAVASCRIPT", "TYPESCRIPT", "GO"},
	}

	Difficulties = Enumeration{
		Name:    "difficulty",
		Members: []string{"EASY", "MEDIUM", "HARD"},
	}

	Topics = Enumeration{
		Name: "topic",
		Members: []string{
			"ARRAY", "STRING", "HASH_TABLE", "LINKED_LIST",
			"STACK", "QUEUE", "TREE", "GRAPH",
			"HEAP", "SORTING", "SEARCHING", "DYNAMIC_PROGRAMMING",
			"GREEDY", "BIT_MANIPULATION", "MATH", "RECURSION",
		},
	}
)

// TotalWidth is the bit width of a full preference code.
func TotalWidth() int {
	return Languages.Width() + Difficulties.Width() + Topics.Width()
}

// Width returns the number of members, i.e. the encoded bitstring length.
func (e Enumeration) Width() int {
	return len(e.Members)
}

// Index returns the declaration position of v (case-insensitive), or -1.
func (e Enumeration) Index(v string) int {
	v = strings.ToUpper(strings.TrimSpace(v))
	for i, m := range e.Members {
		if m == v {
			return i
		}
	}
	return -1
}

// Contains reports whether v names a member of e.
func (e Enumeration) Contains(v string) bool {
	return e.Index(v) >= 0
}
