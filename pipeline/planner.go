package pipeline

import (
	"fmt"

	"tlsn-notary/notary"
	"tlsn-notary/shared"
)

// Committer is the commitment surface of a session that has not been
// finalized yet. *notary.NotarizingProver implements it.
type Committer interface {
	CommitSent(r shared.Range) (notary.CommitmentID, error)
	CommitRecv(r shared.Range) (notary.CommitmentID, error)
}

var _ Committer = (*notary.NotarizingProver)(nil)

// PlannedCommitment pairs a committed range with the handle it produced
type PlannedCommitment struct {
	Direction shared.Direction
	Range     shared.Range
	ID        notary.CommitmentID
}

// CommitmentPlan holds one entry per committed public range, sent ranges
// first, each direction in range order.
type CommitmentPlan struct {
	Entries []PlannedCommitment
}

// Len returns the number of commitments in the plan
func (p *CommitmentPlan) Len() int {
	return len(p.Entries)
}

// IDs returns the handles committed for one direction, in range order
func (p *CommitmentPlan) IDs(d shared.Direction) []notary.CommitmentID {
	var ids []notary.CommitmentID
	for _, e := range p.Entries {
		if e.Direction == d {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// PlanCommitments commits every public range of both directions. The first
// failure aborts the plan.
func PlanCommitments(c Committer, sentRanges, recvRanges []shared.Range) (*CommitmentPlan, error) {
	plan := &CommitmentPlan{Entries: make([]PlannedCommitment, 0, len(sentRanges)+len(recvRanges))}

	commit := func(d shared.Direction, ranges []shared.Range, fn func(shared.Range) (notary.CommitmentID, error)) error {
		for _, r := range ranges {
			id, err := fn(r)
			if err != nil {
				return shared.NewStageError(shared.StageCommitment,
					fmt.Sprintf("failed to commit %s range %v", d, r),
					shared.NewLifecycleError("commit", err))
			}
			plan.Entries = append(plan.Entries, PlannedCommitment{Direction: d, Range: r, ID: id})
		}
		return nil
	}

	if err := commit(shared.DirectionSent, sentRanges, c.CommitSent); err != nil {
		return nil, err
	}
	if err := commit(shared.DirectionReceived, recvRanges, c.CommitRecv); err != nil {
		return nil, err
	}
	return plan, nil
}
