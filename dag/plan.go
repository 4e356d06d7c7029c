package dag

// PlanStep describes one node in a dry-run batch.
type PlanStep struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Plan is a dry run: the batches a scheduler would launch, in order.
type Plan struct {
	Batches     [][]PlanStep `json:"batches"`
	Unscheduled []string     `json:"unscheduled,omitempty"`
}

// Plan computes the dry-run plan from the same waves the scheduler uses.
// Nodes caught in a cycle are listed as unscheduled.
func (g *Graph) Plan() *Plan {
	waves, _ := g.Waves()
	p := &Plan{Batches: make([][]PlanStep, 0, len(waves))}

	placed := make(map[string]bool, g.Len())
	for _, wave := range waves {
		batch := make([]PlanStep, 0, len(wave))
		for _, id := range wave {
			n := g.nodes[id]
			batch = append(batch, PlanStep{ID: id, Label: n.DisplayName(), Type: n.Type})
			placed[id] = true
		}
		p.Batches = append(p.Batches, batch)
	}
	for _, id := range g.order {
		if !placed[id] {
			p.Unscheduled = append(p.Unscheduled, id)
		}
	}
	return p
}

// Steps returns the number of scheduled nodes.
func (p *Plan) Steps() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}
