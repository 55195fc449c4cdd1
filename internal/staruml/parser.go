// SPDX-License-Identifier: MIT

package staruml

import (
	"encoding/json"
	"fmt"
)

// element type tags used in .mdj files
const (
	typeClass          = "UMLClass"
	typeInterface      = "UMLInterface"
	typeEnumeration    = "UMLEnumeration"
	typeGeneralization = "UMLGeneralization"
	typeAssociation    = "UMLAssociation"
	typeDependency     = "UMLDependency"
	typeRealization    = "UMLRealization"
)

// rawRelation carries a relationship before $ref resolution.
type rawRelation struct {
	kind      RelationKind
	sourceRef string
	targetRef string
	source    string
	target    string
	label     string
	sourceMul string
	targetMul string
}

// Parse reads a StarUML .mdj project and extracts all classes, interfaces,
// enumerations and the relationships between them. The walk is recursive over
// the whole document tree, so elements are found regardless of which diagram
// or package they live in.
func Parse(data []byte) (*Model, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse mdj: %w", err)
	}

	p := &parser{names: make(map[string]string)}
	p.walk(root)

	m := &Model{
		Name:        str(root["name"]),
		Classifiers: p.classifiers,
	}
	for _, r := range p.relations {
		m.Relationships = append(m.Relationships, Relationship{
			Kind:               r.kind,
			Source:             p.resolve(r.sourceRef, r.source),
			Target:             p.resolve(r.targetRef, r.target),
			Label:              r.label,
			SourceMultiplicity: r.sourceMul,
			TargetMultiplicity: r.targetMul,
		})
	}
	// Projects without class-model content (use-case or sequence models)
	// yield an empty model and render as an empty diagram downstream.
	return m, nil
}

type parser struct {
	classifiers []Classifier
	relations   []rawRelation
	names       map[string]string // _id -> name, for $ref resolution
}

func (p *parser) walk(node any) {
	switch v := node.(type) {
	case map[string]any:
		if id := str(v["_id"]); id != "" {
			if name := str(v["name"]); name != "" {
				p.names[id] = name
			}
		}

		switch str(v["_type"]) {
		case typeClass:
			p.classifiers = append(p.classifiers, classifier(v, "class"))
		case typeInterface:
			p.classifiers = append(p.classifiers, classifier(v, "interface"))
		case typeEnumeration:
			c := classifier(v, "enum")
			c.Literals = literals(v)
			p.classifiers = append(p.classifiers, c)
		case typeGeneralization:
			p.relations = append(p.relations, relation(v, RelationGeneralization))
		case typeRealization:
			p.relations = append(p.relations, relation(v, RelationRealization))
		case typeDependency:
			p.relations = append(p.relations, relation(v, RelationDependency))
		case typeAssociation:
			p.relations = append(p.relations, association(v))
		}

		// Recurse into everything except the bookkeeping keys; _parent in
		// particular would loop back up the tree.
		for key, child := range v {
			switch key {
			case "_type", "_id", "_parent":
			default:
				p.walk(child)
			}
		}

	case []any:
		for _, item := range v {
			p.walk(item)
		}
	}
}

// resolve turns a $ref into the referenced element's name. Some exports
// inline the name instead of a reference, so that is kept as fallback.
func (p *parser) resolve(ref, inline string) string {
	if ref != "" {
		if name, ok := p.names[ref]; ok {
			return name
		}
	}
	if inline != "" {
		return inline
	}
	return "Unknown"
}

func classifier(v map[string]any, kind string) Classifier {
	c := Classifier{
		ID:   str(v["_id"]),
		Name: strOr(v["name"], "Unknown"),
		Kind: kind,
	}
	if attrs, ok := v["attributes"].([]any); ok {
		for _, a := range attrs {
			am, ok := a.(map[string]any)
			if !ok || str(am["name"]) == "" {
				continue
			}
			c.Attributes = append(c.Attributes, Attribute{
				Name:       str(am["name"]),
				Type:       str(am["type"]),
				Visibility: visibility(str(am["visibility"])),
			})
		}
	}
	if ops, ok := v["operations"].([]any); ok {
		for _, o := range ops {
			om, ok := o.(map[string]any)
			if !ok || str(om["name"]) == "" {
				continue
			}
			c.Operations = append(c.Operations, Operation{
				Name:       str(om["name"]),
				ReturnType: operationReturnType(om),
				Visibility: visibility(str(om["visibility"])),
			})
		}
	}
	return c
}

// operationReturnType reads the return type either from a plain returnType
// field or from the parameter with direction "return", which is how StarUML
// actually stores it.
func operationReturnType(om map[string]any) string {
	if rt := str(om["returnType"]); rt != "" {
		return rt
	}
	params, ok := om["parameters"].([]any)
	if !ok {
		return ""
	}
	for _, p := range params {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if str(pm["direction"]) == "return" {
			return str(pm["type"])
		}
	}
	return ""
}

func literals(v map[string]any) []string {
	raw, ok := v["literals"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, l := range raw {
		lm, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if name := str(lm["name"]); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func relation(v map[string]any, kind RelationKind) rawRelation {
	r := rawRelation{
		kind:  kind,
		label: str(v["name"]),
	}
	r.sourceRef, r.source = endpoint(v["source"])
	r.targetRef, r.target = endpoint(v["target"])
	return r
}

// association reads a UMLAssociation. Ends carry the references and the
// multiplicities; end1 is the source side.
func association(v map[string]any) rawRelation {
	r := rawRelation{
		kind:  RelationAssociation,
		label: str(v["name"]),
	}
	if end1, ok := v["end1"].(map[string]any); ok {
		r.sourceRef, r.source = endpoint(end1["reference"])
		r.sourceMul = str(end1["multiplicity"])
	}
	if end2, ok := v["end2"].(map[string]any); ok {
		r.targetRef, r.target = endpoint(end2["reference"])
		r.targetMul = str(end2["multiplicity"])
	}
	// Some exports flatten associations to source/target like the other
	// relationship kinds.
	if r.sourceRef == "" && r.source == "" {
		r.sourceRef, r.source = endpoint(v["source"])
	}
	if r.targetRef == "" && r.target == "" {
		r.targetRef, r.target = endpoint(v["target"])
	}
	if r.targetMul == "" {
		r.targetMul = str(v["multiplicity"])
	}
	return r
}

// endpoint accepts either {"$ref": "id"} or an inline {"name": "X"} object.
func endpoint(v any) (ref, name string) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", ""
	}
	return str(m["$ref"]), str(m["name"])
}

func visibility(v string) string {
	switch v {
	case "private":
		return VisibilityPrivate
	case "protected":
		return VisibilityProtected
	case "package":
		return VisibilityPackage
	default:
		return VisibilityPublic
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strOr(v any, def string) string {
	if s := str(v); s != "" {
		return s
	}
	return def
}
