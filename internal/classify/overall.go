package classify

import "github.com/pingsantohq/connprobe/pkg/types"

// Overall combines the HTTP and HTTPS sub-results of a target: OK if either
// succeeded, Timeout only when both timed out, Error otherwise.
func Overall(http, https types.Classification) types.OverallStatus {
	switch {
	case http == types.ClassOK || https == types.ClassOK:
		return types.OverallOK
	case http == types.ClassTimeout && https == types.ClassTimeout:
		return types.OverallTimeout
	default:
		return types.OverallError
	}
}

// OverallOf applies the same precedence to any number of sub-results.
func OverallOf(outcomes []types.ProbeOutcome) types.OverallStatus {
	if len(outcomes) == 0 {
		return types.OverallError
	}
	allTimeout := true
	for _, o := range outcomes {
		if o.Classification == types.ClassOK {
			return types.OverallOK
		}
		if o.Classification != types.ClassTimeout {
			allTimeout = false
		}
	}
	if allTimeout {
		return types.OverallTimeout
	}
	return types.OverallError
}
