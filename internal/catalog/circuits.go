package catalog

func node(hook string, idx Index) Node { return Node{Hook: hook, Index: idx} }

func edge(child string, childIdx Index, parent string, parentIdx Index) Entry {
	return Entry{Edge: Edge{Child: node(child, childIdx), Parent: node(parent, parentIdx)}, Included: true}
}

var discovery = Provenance{Threshold: "epsilon", Metric: "l2", Ablation: "zero", Commit: "e612e50"}

func withTask(p Provenance, task string) Provenance {
	p.Task = task
	return p
}

var proportion = mustCatalog(withTask(discovery, "proportion"), []Entry{
	edge("blocks.1.hook_resid_post", whole, "blocks.1.attn.hook_result", head0),
	edge("blocks.1.attn.hook_result", head0, "blocks.1.attn.hook_q", head0),
	edge("blocks.1.attn.hook_result", head0, "blocks.1.attn.hook_k", head0),
	edge("blocks.1.attn.hook_result", head0, "blocks.1.attn.hook_v", head0),
	edge("blocks.1.attn.hook_q", head0, "blocks.1.hook_q_input", head0),
	edge("blocks.1.attn.hook_k", head0, "blocks.1.hook_k_input", head0),
	edge("blocks.1.attn.hook_v", head0, "blocks.1.hook_v_input", head0),
	edge("blocks.1.hook_q_input", head0, "hook_embed", whole),
	edge("blocks.1.hook_q_input", head0, "hook_pos_embed", whole),
	edge("blocks.1.hook_k_input", head0, "hook_embed", whole),
	edge("blocks.1.hook_k_input", head0, "hook_pos_embed", whole),
	edge("blocks.1.hook_v_input", head0, "blocks.0.hook_mlp_out", whole),
	edge("blocks.0.hook_mlp_out", whole, "blocks.0.hook_mlp_in", whole),
	edge("blocks.0.hook_mlp_in", whole, "hook_embed", whole),
})

var reverse = mustCatalog(withTask(discovery, "reverse"), []Entry{
	edge("blocks.3.hook_resid_post", whole, "blocks.3.attn.hook_result", head0),
	edge("blocks.3.attn.hook_result", head0, "blocks.3.attn.hook_q", head0),
	edge("blocks.3.attn.hook_result", head0, "blocks.3.attn.hook_k", head0),
	edge("blocks.3.attn.hook_result", head0, "blocks.3.attn.hook_v", head0),
	edge("blocks.3.attn.hook_q", head0, "blocks.3.hook_q_input", head0),
	edge("blocks.3.attn.hook_k", head0, "blocks.3.hook_k_input", head0),
	edge("blocks.3.attn.hook_v", head0, "blocks.3.hook_v_input", head0),
	edge("blocks.3.hook_q_input", head0, "blocks.2.hook_mlp_out", whole),
	edge("blocks.3.hook_k_input", head0, "hook_pos_embed", whole),
	edge("blocks.3.hook_v_input", head0, "hook_embed", whole),
	edge("blocks.2.hook_mlp_out", whole, "blocks.2.hook_mlp_in", whole),
	edge("blocks.2.hook_mlp_in", whole, "blocks.1.hook_mlp_out", whole),
	edge("blocks.1.hook_mlp_out", whole, "blocks.1.hook_mlp_in", whole),
	edge("blocks.1.hook_mlp_in", whole, "blocks.0.hook_mlp_out", whole),
	edge("blocks.1.hook_mlp_in", whole, "hook_embed", whole),
	edge("blocks.1.hook_mlp_in", whole, "hook_pos_embed", whole),
	edge("blocks.0.hook_mlp_out", whole, "blocks.0.hook_mlp_in", whole),
	edge("blocks.0.hook_mlp_in", whole, "blocks.0.attn.hook_result", head0),
	edge("blocks.0.hook_mlp_in", whole, "hook_embed", whole),
	edge("blocks.0.attn.hook_result", head0, "blocks.0.attn.hook_q", head0),
	edge("blocks.0.attn.hook_result", head0, "blocks.0.attn.hook_k", head0),
	edge("blocks.0.attn.hook_result", head0, "blocks.0.attn.hook_v", head0),
	edge("blocks.0.attn.hook_v", head0, "blocks.0.hook_v_input", head0),
	edge("blocks.0.hook_v_input", head0, "hook_embed", whole),
})

// Reverse is the reference circuit for the reverse task.
func Reverse() *Catalog { return reverse }

// Proportion is the reference circuit for the proportion task.
func Proportion() *Catalog { return proportion }
