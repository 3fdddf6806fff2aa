package models

import "time"

type Metal string

const (
	MetalGold   Metal = "gold"
	MetalSilver Metal = "silver"
	MetalCopper Metal = "copper"
)

var AllMetals = []Metal{MetalGold, MetalSilver, MetalCopper}

type SubmissionStatus string

const (
	StatusPending          SubmissionStatus = "pending"
	StatusEvaluating       SubmissionStatus = "evaluating"
	StatusQualified        SubmissionStatus = "qualified"
	StatusUnqualified      SubmissionStatus = "unqualified"
	StatusEvaluationFailed SubmissionStatus = "evaluation_failed"
	StatusRegistered       SubmissionStatus = "registered"
)

// Terminal reports whether a status is an end state of the evaluation
// pipeline. Pending and evaluating records are in flight (or stranded by
// a crash) and may be re-run.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusQualified, StatusUnqualified, StatusEvaluationFailed, StatusRegistered:
		return true
	}
	return false
}

// Point3D is a position in the shared similarity space.
type Point3D struct {
	X float64
	Y float64
	Z float64
}

type Submission struct {
	Hash              string
	Title             string
	Category          string
	Contributor       string
	RawText           string
	WordCount         int
	Status            SubmissionStatus
	Novelty           int
	Density           int
	Coherence         int
	Alignment         int
	Composite         int
	Final             int
	RedundancyPercent float64
	QualifiedEpoch    int
	MetalWeights      map[Metal]float64
	Embedding         []float32
	EmbeddingModel    string
	EmbeddingSource   string
	Point             *Point3D
	EvaluationError   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ArchiveEntry is a read-only projection of an evaluated submission used
// for redundancy comparison. The archive grows monotonically.
type ArchiveEntry struct {
	Hash      string
	Title     string
	Embedding []float32
	Point     *Point3D
	Novelty   int
	Density   int
	Coherence int
	Alignment int
	CreatedAt time.Time
}

type MetalPool struct {
	ID             int64
	Metal          Metal
	Epoch          int
	Balance        int64
	InitialBalance int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Allocation is the append-only record of one pool debit. Never mutated.
type Allocation struct {
	ID             int64
	SubmissionHash string
	Contributor    string
	Metal          Metal
	Epoch          int
	Amount         int64
	BalanceBefore  int64
	BalanceAfter   int64
	CreatedAt      time.Time
}

type AuditEvent struct {
	ID             string
	SubmissionHash string
	EventType      string
	Status         string
	Payload        string
	CreatedAt      time.Time
}

// TokenomicsAggregate is a cache over the allocation ledger. It must
// always be reconstructible by summing allocations.
type TokenomicsAggregate struct {
	TotalAllocated  int64
	AllocationCount int64
	PerMetal        map[Metal]int64
	UpdatedAt       time.Time
}
