package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/schema"
)

const describeLogPrefix = "registry:describe"

// ServiceDoc documents every exposed class of a node.
type ServiceDoc struct {
	Service     string
	Version     string
	Description string
	Classes     []ClassDoc
}

// ClassDoc documents one exposed class.
type ClassDoc struct {
	Service string
	Name    string
	Desc    string
	Types   []string
	Methods []MethodDoc
}

// MethodDoc documents one exposed method.
type MethodDoc struct {
	Service      string
	Class        string
	Name         string
	Desc         string
	RequiresAuth bool
	Params       []ParamDoc
	Return       string
	ReturnDesc   string
	// Example is a sample request envelope.
	Example string
}

// ParamDoc documents one parameter.
type ParamDoc struct {
	Name     string
	Desc     string
	Type     string
	Optional bool
}

// DescribeService documents all classes.
func (r *Registry) DescribeService(service, version, description string) *ServiceDoc {
	doc := &ServiceDoc{Service: service, Version: version, Description: description}
	for _, c := range r.Classes() {
		cd, err := r.DescribeClass(service, c.Name)
		if err != nil {
			continue
		}
		doc.Classes = append(doc.Classes, *cd)
	}
	return doc
}

// DescribeClass documents one class and its methods.
func (r *Registry) DescribeClass(service, class string) (*ClassDoc, error) {
	info, ok := r.Class(class)
	if !ok {
		return nil, protocol.NewNotFoundError(fmt.Sprintf("service '%s' not exist", class))
	}
	doc := &ClassDoc{Service: service, Name: info.Name, Desc: info.Desc, Types: info.Types}
	for _, em := range r.MethodsOf(class) {
		doc.Methods = append(doc.Methods, describeMethod(service, em))
	}
	return doc, nil
}

// DescribeMethod documents one method.
func (r *Registry) DescribeMethod(service, class, method string) (*MethodDoc, error) {
	em, err := r.Get(class, method)
	if err != nil {
		return nil, err
	}
	doc := describeMethod(service, em)
	return &doc, nil
}

func describeMethod(service string, em *ExposedMethod) MethodDoc {
	doc := MethodDoc{
		Service:      service,
		Class:        em.ClassName,
		Name:         em.Name,
		Desc:         em.Desc,
		RequiresAuth: em.RequiresAuth,
		Return:       em.Return.Describe(),
		ReturnDesc:   em.ReturnDesc,
	}
	params := make(map[string]any, len(em.Params))
	for _, p := range em.Params {
		doc.Params = append(doc.Params, ParamDoc{
			Name:     p.Name,
			Desc:     p.Desc,
			Type:     p.Shape.Describe(),
			Optional: p.Optional,
		})
		params[p.Name] = SampleValue(p.Shape)
	}

	example := map[string]any{
		protocol.PropMethod:  strings.Join([]string{service, em.ClassName, em.Name}, ":"),
		protocol.PropContext: map[string]any{protocol.PropSequence: 1},
		protocol.PropParams:  params,
	}
	if em.RequiresAuth {
		example[protocol.PropContext] = map[string]any{protocol.PropSequence: 1, protocol.PropToken: "<token>"}
	}
	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - example for %s.%s: %v", describeLogPrefix, em.ClassName, em.Name, err))
	}
	doc.Example = string(data)
	return doc
}

// SampleValue builds a placeholder JSON value matching shape.
func SampleValue(shape *schema.Shape) any {
	return sampleValue(shape, map[string]bool{})
}

func sampleValue(shape *schema.Shape, seen map[string]bool) any {
	if shape == nil {
		return nil
	}
	switch shape.Kind {
	case schema.KindPrimitive:
		switch shape.Name {
		case "bool":
			return false
		case "string":
			return ""
		case "float32", "float64":
			return 0.0
		}
		return 0
	case schema.KindList, schema.KindSet:
		return []any{sampleValue(shape.Elem, seen)}
	case schema.KindMap:
		key := "key"
		if shape.Key != schema.KeyString {
			key = "0"
		}
		return map[string]any{key: sampleValue(shape.Elem, seen)}
	case schema.KindOpaque:
		return map[string]any{}
	case schema.KindEnum:
		if len(shape.Values) > 0 {
			return shape.Values[0]
		}
		return ""
	case schema.KindRecord:
		obj := map[string]any{}
		if seen[shape.Name] {
			return obj
		}
		seen[shape.Name] = true
		for _, f := range shape.Fields {
			obj[f.Name] = sampleValue(f.Shape, seen)
		}
		delete(seen, shape.Name)
		return obj
	}
	return nil
}
