package assembly

import (
	"context"
	"fmt"

	"hyperdrive/ledger"
	"hyperdrive/native/campaign"
)

// DefaultMaxRounds bounds confirmation polling when the caller does not
// specify a budget.
const DefaultMaxRounds = 10

// DeploymentRecorder persists the project-to-campaign binding exactly once.
// CompareAndSetDeployment stores id for projectID only when no deployment is
// recorded yet, returning the stored identifier and whether this call wrote
// it.
type DeploymentRecorder interface {
	CompareAndSetDeployment(ctx context.Context, projectID string, id [32]byte) ([32]byte, bool, error)
}

// Submit sends a bundle and waits for confirmation within maxRounds rounds.
func Submit(ctx context.Context, adapter ledger.Adapter, bundle *Bundle, maxRounds int) (*ledger.SubmitResult, error) {
	if bundle == nil || len(bundle.Operations) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", campaign.ErrValidation)
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	ref, err := adapter.SubmitAtomic(ctx, bundle.Operations)
	if err != nil {
		return nil, err
	}
	return adapter.WaitForConfirmation(ctx, ref, maxRounds)
}

// FinalizeDeploy submits a deploy bundle, waits for confirmation and records
// the resulting campaign identifier against the project. The recording is
// compare-and-set: a concurrent finalize that already bound the same campaign
// is treated as success, while a binding to a different campaign fails so two
// racing deploys can never both win.
func FinalizeDeploy(ctx context.Context, adapter ledger.Adapter, recorder DeploymentRecorder, projectID string, bundle *Bundle, maxRounds int) ([32]byte, error) {
	if recorder == nil {
		return [32]byte{}, fmt.Errorf("%w: nil deployment recorder", campaign.ErrValidation)
	}
	if projectID == "" {
		return [32]byte{}, fmt.Errorf("%w: empty project id", campaign.ErrValidation)
	}
	result, err := Submit(ctx, adapter, bundle, maxRounds)
	if err != nil {
		return [32]byte{}, err
	}
	stored, swapped, err := recorder.CompareAndSetDeployment(ctx, projectID, result.CampaignID)
	if err != nil {
		return [32]byte{}, err
	}
	if !swapped && stored != result.CampaignID {
		return [32]byte{}, fmt.Errorf("%w: project %s already bound to a different campaign", campaign.ErrPreconditionFailed, projectID)
	}
	return result.CampaignID, nil
}
