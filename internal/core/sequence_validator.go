package core

import (
	"fmt"
	"maps"
	"strings"

	"RebalancePool/internal/observability"

	"github.com/ethereum/go-ethereum/common"
)

// SequenceValidator enforces per-partition source ordering. Every sender is
// its own partition; the collateral ratio feed is tolerant of gaps.
// Not thread-safe; only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
	metrics         *observability.Metrics

	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// SenderPartition is the ordering partition of commands from sender.
func SenderPartition(sender common.Address) string {
	return "sender:" + strings.ToLower(sender.Hex())
}

// RatioPartition is the ordering partition of a collateral ratio feed.
func RatioPartition(feeder common.Address) string {
	return "ratio:" + strings.ToLower(feeder.Hex())
}

// ValidateSequence checks a sender nonce. Stale nonces are accepted only for
// duplicates; any gap is an error.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	switch {
	case sourceSequence == expected:
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		sv.outOfOrder[partition]++
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	default:
		sv.gaps[partition]++
		if sv.metrics != nil {
			sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSequenceGap, partition, expected, sourceSequence)
	}
}

// ValidateRatioSequence accepts any update newer than the last one and
// reports whether it is fresh. Stale updates are ignored, gaps are counted.
func (sv *SequenceValidator) ValidateRatioSequence(partition string, ratioSequence int64) bool {
	expected := sv.expectedNextSeq[partition]
	if ratioSequence < expected {
		return false
	}
	if ratioSequence > expected {
		sv.gaps[partition]++
		if sv.metrics != nil {
			sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
	}
	sv.expectedNextSeq[partition] = ratioSequence + 1
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence overrides a partition (recovery, rejected commands).
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	if seq == 0 {
		delete(sv.expectedNextSeq, partition)
		return
	}
	sv.expectedNextSeq[partition] = seq
}

// RestorePartition is SetExpectedSequence under its snapshot name.
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.SetExpectedSequence(partition, nextSeq)
}

// GetAllPartitions returns a copy of every partition's next expected sequence.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	return maps.Clone(sv.expectedNextSeq)
}

func (sv *SequenceValidator) Gaps(partition string) int64 {
	return sv.gaps[partition]
}

func (sv *SequenceValidator) OutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}
