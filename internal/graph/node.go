// Package graph holds the node and edge arenas, the version chains, and the
// structural invariants of the memory graph. Nodes are never deleted; only
// their status changes. All cross-references are integer ids, so there is no
// in-memory pointer graph to cycle.
package graph

import (
	"errors"
	"time"
)

// MaxValueLen caps the natural-language payload of a node.
const MaxValueLen = 512

// NodeType tags what kind of memory a node holds.
type NodeType uint8

const (
	NodeEntity NodeType = iota
	NodeFact
	NodeEvent
	NodeRelation
)

func (t NodeType) String() string {
	switch t {
	case NodeEntity:
		return "entity"
	case NodeFact:
		return "fact"
	case NodeEvent:
		return "event"
	case NodeRelation:
		return "relation"
	}
	return "unknown"
}

// Status is the lifecycle state of a node.
type Status uint8

const (
	StatusActive Status = iota
	StatusSuperseded
	StatusRetracted
	StatusMerged
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuperseded:
		return "superseded"
	case StatusRetracted:
		return "retracted"
	case StatusMerged:
		return "merged"
	}
	return "unknown"
}

// Source records who asserted a fact. User outranks Model on conflict.
type Source uint8

const (
	SourceUser Source = iota
	SourceModel
)

func (s Source) String() string {
	if s == SourceUser {
		return "user"
	}
	return "model"
}

// Tier is the storage tier a node currently occupies.
type Tier uint8

const (
	TierHot Tier = iota
	TierWarm
	TierCold
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	}
	return "cold"
}

// Node is the atomic unit of memory.
type Node struct {
	ID           int64
	Type         NodeType
	Label        string
	Value        string
	Embedding    []float64
	Salience     float64
	CreatedAt    time.Time
	LastAccessed time.Time
	Tier         Tier
	Source       Source
	ConceptKey   string
	SupersededBy int64 // 0 when current
	Pinned       bool
	Status       Status

	// Offset locates the value/embedding in the cold log for hibernated
	// nodes; 0 means fully resident.
	Offset int64
}

// Errors surfaced by the store.
var (
	ErrBadInput        = errors.New("bad input")
	ErrInvalidEndpoint = errors.New("edge endpoint is not an active node")
	ErrOutOfCapacity   = errors.New("node arena is full")
	ErrReadOnly        = errors.New("engine is read-only")
	ErrNotFound        = errors.New("node not found")
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
