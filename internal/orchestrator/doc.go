// Package orchestrator decides which spec task should be dispatched next.
//
// A decision combines three independent inputs:
//   - The spec document: checklist tasks in document order, each with a
//     content-derived identity hash
//   - Pull requests: open PRs mark their task as in progress; PRs whose
//     branch identity matches no task are reported as orphans
//   - Reviewer capacity: dispatch only happens when some reviewer is under
//     their open-PR limit
//
// The orchestrator is deterministic: the same inputs always yield the same
// decision, so concurrent invocations pick the same task and the branch
// creation that follows acts as the mutex.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.Config{
//		LabelPrefix: "taskq",
//		Project:     "auth",
//	})
//	decision, err := orch.Decide(specText, pullRequests)
//	if decision.Outcome() == orchestrator.OutcomeDispatch {
//		fmt.Println(decision.BranchName)
//	}
package orchestrator
