// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

// ModelInfo describes a selectable completion model.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Models returns the free-tier model catalog. The first entry is the
// default.
func Models() []ModelInfo {
	return []ModelInfo{
		{ID: "xiaomi/mimo-v2-flash:free", Name: "Mimo V2 Flash", Provider: "Xiaomi"},
		{ID: "meta-llama/llama-3.3-70b-instruct:free", Name: "Llama 3.3 70B", Provider: "Meta"},
		{ID: "mistralai/devstral-2512:free", Name: "Devstral 2", Provider: "Mistral"},
		{ID: "deepseek/deepseek-r1-0528:free", Name: "DeepSeek R1", Provider: "DeepSeek"},
		{ID: "z-ai/glm-4.5-air:free", Name: "GLM 4.5 Air", Provider: "Z.AI"},
	}
}

// LookupModel returns the catalog entry for id, if present.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Models() {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
