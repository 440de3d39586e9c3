package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Hook point names, relative to their block.
const (
	HookEmbed    = "hook_embed"
	HookPosEmbed = "hook_pos_embed"

	HookResidPre   = "hook_resid_pre"
	HookQInput     = "hook_q_input"
	HookKInput     = "hook_k_input"
	HookVInput     = "hook_v_input"
	HookQ          = "attn.hook_q"
	HookK          = "attn.hook_k"
	HookV          = "attn.hook_v"
	HookAttnScores = "attn.hook_attn_scores"
	HookPattern    = "attn.hook_pattern"
	HookZ          = "attn.hook_z"
	HookResult     = "attn.hook_result"
	HookAttnOut    = "hook_attn_out"
	HookResidMid   = "hook_resid_mid"
	HookMLPIn      = "hook_mlp_in"
	HookMLPPre     = "mlp.hook_pre"
	HookMLPPost    = "mlp.hook_post"
	HookMLPOut     = "hook_mlp_out"
	HookResidPost  = "hook_resid_post"
)

// GlobalLayer marks hooks that sit outside any block.
const GlobalLayer = -1

var globalHooks = map[string]bool{HookEmbed: true, HookPosEmbed: true}

var blockHooks = map[string]bool{
	HookResidPre: true, HookQInput: true, HookKInput: true, HookVInput: true,
	HookQ: true, HookK: true, HookV: true, HookAttnScores: true, HookPattern: true,
	HookZ: true, HookResult: true, HookAttnOut: true, HookResidMid: true,
	HookMLPIn: true, HookMLPPre: true, HookMLPPost: true, HookMLPOut: true, HookResidPost: true,
}

// HookKey addresses one cached activation.
type HookKey struct {
	Name  string
	Layer int
}

func (k HookKey) FullName() string {
	if k.Layer == GlobalLayer {
		return k.Name
	}
	return fmt.Sprintf("blocks.%d.%s", k.Layer, k.Name)
}

func (k HookKey) String() string { return k.FullName() }

// CanonicalHook resolves a short name like "attn_out", "result" or "pre" to
// its hook constant.
func CanonicalHook(name string) (string, bool) {
	for _, cand := range []string{name, "hook_" + name, "attn.hook_" + name, "mlp.hook_" + name} {
		if globalHooks[cand] || blockHooks[cand] {
			return cand, true
		}
	}
	return "", false
}

// IsGlobalHook reports whether name (canonical) lives outside the blocks.
func IsGlobalHook(name string) bool { return globalHooks[name] }

// ParseHookName parses a full name such as "blocks.1.attn.hook_result".
func ParseHookName(full string) (HookKey, error) {
	if globalHooks[full] {
		return HookKey{Name: full, Layer: GlobalLayer}, nil
	}
	rest, ok := strings.CutPrefix(full, "blocks.")
	if !ok {
		return HookKey{}, fmt.Errorf("unknown hook %q", full)
	}
	idx, name, ok := strings.Cut(rest, ".")
	if !ok {
		return HookKey{}, fmt.Errorf("malformed hook %q", full)
	}
	layer, err := strconv.Atoi(idx)
	if err != nil || layer < 0 {
		return HookKey{}, fmt.Errorf("malformed layer in hook %q", full)
	}
	if !blockHooks[name] {
		return HookKey{}, fmt.Errorf("unknown hook %q", full)
	}
	return HookKey{Name: name, Layer: layer}, nil
}
