// Package vm provides the provisioning, start, and teardown pipelines for
// sandbox instances.
//
// The pipelines compose the identity generator, template catalog, artifact
// store, and control-plane adapter. Each collaborator is consumed through a
// small interface defined next to the pipelines, so they can be tested
// against fakes without a real virtualization stack.
//
// Error Handling:
//
// Provisioning aborts on the first failure and does not retry; the operator
// re-runs after fixing the cause. Artifacts written before a registration
// failure stay on disk and are reclaimed by teardown. Teardown is the
// opposite: every step tolerates its target being absent, failures are
// recorded per step, and later steps run regardless, because the goal is
// maximal reclamation even under partial inconsistency.
package vm
