package pipeline

import (
	"fmt"

	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/shared"
)

// AssembleProof reveals every handle of the plan, sent then received, and
// pairs the resulting substrings proof with the session proof.
func AssembleProof(session *notary.NotarizedSession, plan *CommitmentPlan) (*proof.TLSProof, error) {
	if session == nil || plan == nil {
		return nil, shared.NewStageError(shared.StageProofBuild, "session and plan are required", nil)
	}

	builder := session.Data().BuildSubstringsProof()
	for _, d := range []shared.Direction{shared.DirectionSent, shared.DirectionReceived} {
		for _, id := range plan.IDs(d) {
			if err := builder.Reveal(id); err != nil {
				return nil, shared.NewStageError(shared.StageProofBuild,
					fmt.Sprintf("cannot reveal %s commitment %d", d, id.Index()),
					shared.NewLifecycleError("reveal", err))
			}
		}
	}

	substrings, err := builder.Build()
	if err != nil {
		return nil, shared.NewStageError(shared.StageProofBuild, "failed to build substrings proof", err)
	}

	return &proof.TLSProof{
		Session:    session.SessionProof(),
		Substrings: substrings,
	}, nil
}
