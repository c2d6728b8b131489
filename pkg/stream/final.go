package stream

import (
	"encoding/json"

	"chatflow/pkg/models"
)

// The HTTP result body has shifted shape across backend revisions: the
// final response may sit under response.final_response or directly under
// final_response, and very old deployments return a bare string. Both
// nestings are probed, newest first.

type finalResponse struct {
	Layout   []models.LayoutBlock       `json:"layout"`
	FullData map[string]json.RawMessage `json:"full_data"`
	Message  string                     `json:"message"`
}

type finalEnvelope struct {
	Response *struct {
		FinalResponse *finalResponse `json:"final_response"`
	} `json:"response"`
	FinalResponse *finalResponse `json:"final_response"`
	Message       string         `json:"message"`
}

// parseFinalResult extracts the answer content from a result body. When a
// structured layout is present it wins and content is empty; deferred
// blocks referencing full_data entries are resolved in place.
func parseFinalResult(body []byte) (content string, layout []models.LayoutBlock) {
	var env finalEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		var s string
		if json.Unmarshal(body, &s) == nil {
			return s, nil
		}
		return string(body), nil
	}

	fr := env.FinalResponse
	if env.Response != nil && env.Response.FinalResponse != nil {
		fr = env.Response.FinalResponse
	}
	if fr != nil && len(fr.Layout) > 0 {
		return "", resolveDeferred(fr.Layout, fr.FullData)
	}
	if fr != nil && fr.Message != "" {
		return fr.Message, nil
	}
	if env.Message != "" {
		return env.Message, nil
	}
	return string(body), nil
}

// resolveDeferred fills layout blocks that carry only a reference into the
// result's full_data blob. Blocks with inline data are left alone.
func resolveDeferred(layout []models.LayoutBlock, fullData map[string]json.RawMessage) []models.LayoutBlock {
	if len(fullData) == 0 {
		return layout
	}
	out := make([]models.LayoutBlock, len(layout))
	copy(out, layout)
	for i := range out {
		if len(out[i].Data) == 0 && out[i].Ref != "" {
			if d, ok := fullData[out[i].Ref]; ok {
				out[i].Data = d
			}
		}
	}
	return out
}
