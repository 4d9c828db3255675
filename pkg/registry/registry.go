package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/schema"
)

const logPrefix = "registry:registry"

type methodKey struct {
	class  string
	method string
}

// Registry stores exposed methods keyed by (exposed class, exposed method).
type Registry struct {
	mu      sync.RWMutex
	methods map[methodKey]*ExposedMethod
	classes map[string]*ClassInfo
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[methodKey]*ExposedMethod),
		classes: make(map[string]*ClassInfo),
	}
}

// Register validates cls and adds its exposed methods. Nothing is added when
// an error is returned. A class name already used by another class is
// accepted as long as the method names do not collide.
func (r *Registry) Register(cls Class) error {
	if cls.Export == nil {
		return protocol.NewRegistrationError(fmt.Sprintf("%s has no export marker", cls.Type))
	}
	className := cls.Export.Name
	if className == "" {
		className = cls.Type
	}
	classAuth := true
	if cls.Auth != nil {
		classAuth = *cls.Auth
	}

	seen := make(map[string]bool)
	var exposed []*ExposedMethod
	for _, m := range cls.Methods {
		if m.Export == nil {
			continue
		}
		em, err := buildMethod(cls.Type, className, classAuth, m)
		if err != nil {
			return err
		}
		if seen[em.Name] {
			return protocol.NewRegistrationError(fmt.Sprintf("duplicate method '%s' in %s", em.Name, cls.Type))
		}
		seen[em.Name] = true
		exposed = append(exposed, em)
	}
	if len(exposed) == 0 {
		return protocol.NewRegistrationError(fmt.Sprintf("%s has no export method", cls.Type))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, em := range exposed {
		if _, dup := r.methods[methodKey{className, em.Name}]; dup {
			return protocol.NewRegistrationError(fmt.Sprintf("duplicate method '%s' in %s", em.Name, cls.Type))
		}
	}

	info, existed := r.classes[className]
	if existed {
		slog.Warn(fmt.Sprintf("%s - duplicate class name '%s': %s", logPrefix, className, cls.Type))
	} else {
		info = &ClassInfo{Name: className, Desc: cls.Export.Desc}
		r.classes[className] = info
	}
	info.Types = append(info.Types, cls.Type)

	for _, em := range exposed {
		r.methods[methodKey{className, em.Name}] = em
	}
	slog.Info(fmt.Sprintf("%s - register rpc class: %s as %s (%d methods)", logPrefix, cls.Type, className, len(exposed)))
	return nil
}

// MustRegister registers every class, stopping at the first failure.
func (r *Registry) MustRegister(classes ...Class) error {
	for _, cls := range classes {
		if err := r.Register(cls); err != nil {
			return err
		}
	}
	return nil
}

func buildMethod(classType, className string, classAuth bool, m Method) (*ExposedMethod, error) {
	name := m.Export.Name
	if name == "" {
		name = m.Name
	}
	if m.Handler == nil {
		return nil, protocol.NewRegistrationError(fmt.Sprintf("%s method '%s' has no handler", classType, name))
	}
	auth := classAuth
	if m.Auth != nil {
		auth = *m.Auth
	}

	em := &ExposedMethod{
		ClassName:    className,
		ClassType:    classType,
		Name:         name,
		MethodRef:    m.Name,
		Desc:         m.Export.Desc,
		RequiresAuth: auth,
		ReturnDesc:   m.Result.Desc,
		Handler:      m.Handler,
	}

	paramNames := make(map[string]bool)
	for _, p := range m.Params {
		if p.Name == "" {
			return nil, protocol.NewRegistrationError(fmt.Sprintf("%s method '%s' has an unnamed param", classType, name))
		}
		if p.Desc == "" {
			return nil, protocol.NewRegistrationError(fmt.Sprintf("%s method '%s' param '%s' has no description", classType, name, p.Name))
		}
		if paramNames[p.Name] {
			return nil, protocol.NewRegistrationError(fmt.Sprintf("%s method '%s' param '%s' is declared twice", classType, name, p.Name))
		}
		paramNames[p.Name] = true

		path := fmt.Sprintf("%s method '%s' param '%s'", classType, name, p.Name)
		shape, err := schema.Validate(path, p.Type, nil)
		if err != nil {
			return nil, err
		}
		em.Params = append(em.Params, ExposedParam{Param: p, Shape: shape})
	}

	ret, err := schema.Validate(fmt.Sprintf("%s method '%s' return", classType, name), m.Result.Type, nil)
	if err != nil {
		return nil, err
	}
	em.Return = ret
	return em, nil
}

// Exists reports whether (class, method) is registered.
func (r *Registry) Exists(class, method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.methods[methodKey{class, method}]
	return ok
}

// Get returns the exposed method for (class, method).
func (r *Registry) Get(class, method string) (*ExposedMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	em, ok := r.methods[methodKey{class, method}]
	if !ok {
		return nil, protocol.NewNotFoundError(fmt.Sprintf("service '%s' method '%s' not exist", class, method))
	}
	return em, nil
}

// MethodsOf returns the exposed methods of class ordered by name.
func (r *Registry) MethodsOf(class string) []*ExposedMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ExposedMethod
	for k, em := range r.methods {
		if k.class == class {
			out = append(out, em)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Classes returns all exposed classes ordered by name.
func (r *Registry) Classes() []ClassInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClassInfo, 0, len(r.classes))
	for _, info := range r.classes {
		c := *info
		c.Types = append([]string(nil), info.Types...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Class returns the info of one exposed class.
func (r *Registry) Class(name string) (ClassInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.classes[name]
	if !ok {
		return ClassInfo{}, false
	}
	c := *info
	c.Types = append([]string(nil), info.Types...)
	return c, true
}

// Len returns the number of exposed methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
