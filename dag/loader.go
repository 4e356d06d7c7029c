package dag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"go.yaml.in/yaml/v3"
)

// LoadFile reads a flow, choosing the decoder by extension: .yaml/.yml,
// .hcl, or .json (decoded as YAML, which is a superset).
func LoadFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f *Flow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		f, err = LoadHCL(path, data)
	case ".yaml", ".yml", ".json":
		f, err = LoadYAML(data)
	default:
		return nil, fmt.Errorf("dag: unsupported flow file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("dag: parsing %s: %w", path, err)
	}
	if f.ID == "" {
		f.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// LoadYAML decodes a YAML (or JSON) flow document.
func LoadYAML(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadDir loads every flow file directly inside dir, sorted by file name.
// Files with unsupported extensions are ignored.
func LoadDir(dir string) ([]*Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var flows []*Flow
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json", ".hcl":
		default:
			continue
		}
		f, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// hclFlow is the top-level shape of an HCL flow file:
//
//	id   = "release"
//	name = "Release"
//
//	node "build" {
//	  type       = "dockerBuild"
//	  depends_on = ["lint"]
//	  config     = { context = ".", tag = "app:latest" }
//	}
//
//	edge {
//	  source = "build"
//	  target = "deploy"
//	}
type hclFlow struct {
	ID     string     `hcl:"id,optional"`
	Name   string     `hcl:"name,optional"`
	Nodes  []*hclNode `hcl:"node,block"`
	Edges  []*hclEdge `hcl:"edge,block"`
	Remain hcl.Body   `hcl:",remain"`
}

type hclNode struct {
	ID        string    `hcl:"id,label"`
	Label     string    `hcl:"label,optional"`
	Type      string    `hcl:"type"`
	DependsOn []string  `hcl:"depends_on,optional"`
	Config    cty.Value `hcl:"config,optional"`
}

type hclEdge struct {
	Source string `hcl:"source"`
	Target string `hcl:"target"`
}

// LoadHCL decodes an HCL flow document. filename is used in diagnostics.
func LoadHCL(filename string, data []byte) (*Flow, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	var root hclFlow
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, diags
	}

	f := &Flow{ID: root.ID, Name: root.Name}
	for _, n := range root.Nodes {
		cfg, err := ctyToConfig(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %q config: %w", n.ID, err)
		}
		f.Nodes = append(f.Nodes, NodeDef{
			Node:      Node{ID: n.ID, Label: n.Label, Type: n.Type, Config: cfg},
			DependsOn: n.DependsOn,
		})
	}
	for _, e := range root.Edges {
		f.Edges = append(f.Edges, Edge{Source: e.Source, Target: e.Target})
	}
	return f, nil
}

func ctyToConfig(val cty.Value) (map[string]any, error) {
	v, err := ctyToGo(val)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %s", val.Type().FriendlyName())
	}
	return m, nil
}

// ctyToGo converts an HCL value into plain Go values. Whole numbers
// become int so they match what the YAML decoder produces.
func ctyToGo(val cty.Value) (any, error) {
	if val.Type() == cty.NilType || !val.IsKnown() || val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return int(i), nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			gv, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = gv
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			gv, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
