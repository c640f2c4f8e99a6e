package autogen

import "github.com/Ledger1-ai/crm-official-sub000/internal/types"

// ShouldInvokeSERP decides whether the SERP provider runs after the agent
// step. agentAttempted is false when the agent toggle is off.
//
//   - neither serp nor serpFallback enabled: never
//   - agent not attempted: SERP is the only path
//   - otherwise only as a fallback, when the agent failed or found nothing
func ShouldInvokeSERP(t types.ProviderToggles, agentAttempted bool, agentCandidates int, agentErr error) bool {
	if !t.SERP && !t.SERPFallback {
		return false
	}
	if !agentAttempted {
		return true
	}
	return t.SERPFallback && (agentErr != nil || agentCandidates == 0)
}
