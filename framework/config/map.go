package config

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

type matcher struct {
	name          string
	required      bool
	inheritGlobal bool
	defaultVal    func() (interface{}, error)
	mapper        func(*Map, *Node) (interface{}, error)
	store         *reflect.Value
}

func (m *matcher) assign(val interface{}) {
	valRefl := reflect.ValueOf(val)
	if !valRefl.IsValid() {
		valRefl = reflect.Zero(m.store.Type())
	}
	m.store.Set(valRefl)
}

// Map implements reflection-based binding between configuration directives
// and Go variables.
type Map struct {
	allowUnknown bool

	curNode *Node

	Values map[string]interface{}

	entries map[string]matcher

	Globals map[string]interface{}
	Block   *Node
}

// NewMap builds a Map that will process block against globals when Process
// is called.
func NewMap(globals map[string]interface{}, block *Node) *Map {
	return &Map{Globals: globals, Block: block}
}

// MatchErr returns an error formatted like fmt.Errorf, prefixed with the
// currently-processed node's source location when called from a mapper or
// defaultVal callback.
func (m *Map) MatchErr(format string, args ...interface{}) error {
	if m.curNode != nil {
		return NodeErr(m.curNode, format, args...)
	}
	return NodeErr(&Node{}, format, args...)
}

// AllowUnknown makes Process collect unmatched directives instead of
// failing on them.
func (m *Map) AllowUnknown() {
	m.allowUnknown = true
}

// Duration maps a directive in the form 'name duration' (time.ParseDuration
// syntax, non-negative) to a time.Duration variable.
func (m *Map) Duration(name string, inheritGlobal, required bool, defaultVal time.Duration, store *time.Duration) {
	m.Custom(name, inheritGlobal, required, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		if len(node.Args) == 0 {
			return nil, m.MatchErr("at least one argument is required")
		}

		durationStr := strings.Join(node.Args, "")
		dur, err := time.ParseDuration(durationStr)
		if err != nil {
			return nil, m.MatchErr("%v", err)
		}
		if dur < 0 {
			return nil, m.MatchErr("duration must not be negative")
		}
		return dur, nil
	}, store)
}

func parseDataSize(s string) (int, error) {
	if len(s) == 0 {
		return 0, errors.New("missing a number")
	}
	s += " "

	var total int
	currentDigit := ""
	suffix := ""
	for _, ch := range s {
		if unicode.IsDigit(ch) {
			if suffix != "" {
				return 0, errors.New("unexpected digit after a suffix")
			}
			currentDigit += string(ch)
			continue
		}
		if ch != ' ' {
			suffix += string(ch)
			continue
		}

		num, err := strconv.Atoi(currentDigit)
		if err != nil {
			return 0, err
		}
		if num < 0 {
			return 0, errors.New("value must not be negative")
		}

		switch suffix {
		case "G":
			total += num * 1024 * 1024 * 1024
		case "M":
			total += num * 1024 * 1024
		case "K":
			total += num * 1024
		case "B", "b":
			total += num
		default:
			if num != 0 {
				return 0, errors.New("unknown unit suffix: " + suffix)
			}
		}

		suffix = ""
		currentDigit = ""
	}

	return total, nil
}

// DataSize maps a directive carrying a size suffix (G/M/K/B) to an int
// byte count. Multiple arguments are summed.
func (m *Map) DataSize(name string, inheritGlobal, required bool, defaultVal int, store *int) {
	m.Custom(name, inheritGlobal, required, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		if len(node.Args) == 0 {
			return nil, m.MatchErr("at least one argument is required")
		}

		size, err := parseDataSize(strings.Join(node.Args, " "))
		if err != nil {
			return nil, m.MatchErr("%v", err)
		}
		return size, nil
	}, store)
}

// Bool maps the presence of a directive (and its optional 'yes'/'no'
// argument) to a bool variable.
func (m *Map) Bool(name string, inheritGlobal, defaultVal bool, store *bool) {
	m.Custom(name, inheritGlobal, false, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		if len(node.Args) == 0 {
			return true, nil
		}
		if len(node.Args) != 1 {
			return nil, m.MatchErr("expected exactly 1 argument")
		}
		switch node.Args[0] {
		case "yes":
			return true, nil
		case "no":
			return false, nil
		}
		return nil, m.MatchErr("bool argument should be 'yes' or 'no'")
	}, store)
}

// StringList maps 'name arg1 arg2 ...' to a []string variable.
func (m *Map) StringList(name string, inheritGlobal, required bool, defaultVal []string, store *[]string) {
	m.Custom(name, inheritGlobal, required, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Args) == 0 {
			return nil, m.MatchErr("expected at least one argument")
		}
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		return node.Args, nil
	}, store)
}

// String maps 'name value' to a string variable.
func (m *Map) String(name string, inheritGlobal, required bool, defaultVal string, store *string) {
	m.Custom(name, inheritGlobal, required, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Args) != 1 {
			return nil, m.MatchErr("expected 1 argument")
		}
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		return node.Args[0], nil
	}, store)
}

// Int maps 'name 123' to an int variable.
func (m *Map) Int(name string, inheritGlobal, required bool, defaultVal int, store *int) {
	m.Custom(name, inheritGlobal, required, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Args) != 1 {
			return nil, m.MatchErr("expected 1 argument")
		}
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		i, err := strconv.Atoi(node.Args[0])
		if err != nil {
			return nil, m.MatchErr("invalid integer: %s", node.Args[0])
		}
		return i, nil
	}, store)
}

// UInt64 maps 'name 123' to a uint64 variable.
func (m *Map) UInt64(name string, inheritGlobal, required bool, defaultVal uint64, store *uint64) {
	m.Custom(name, inheritGlobal, required, func() (interface{}, error) {
		return defaultVal, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		if len(node.Args) != 1 {
			return nil, m.MatchErr("expected 1 argument")
		}
		if len(node.Children) != 0 {
			return nil, m.MatchErr("can't declare block here")
		}
		i, err := strconv.ParseUint(node.Args[0], 10, 64)
		if err != nil {
			return nil, m.MatchErr("invalid integer: %s", node.Args[0])
		}
		return i, nil
	}, store)
}

// Callback registers a directive whose arguments are handled entirely by f,
// with no value stored back into a Go variable.
func (m *Map) Callback(name string, f func(m *Map, node *Node) error) {
	m.Custom(name, false, false, func() (interface{}, error) {
		return nil, nil
	}, func(m *Map, node *Node) (interface{}, error) {
		return nil, f(m, node)
	}, nil)
}

// Custom registers an arbitrary directive binding: inheritGlobal pulls the
// value from the global config map when the block omits the directive;
// required fails Process if neither is present; defaultVal supplies the
// fallback; mapper converts the node's arguments into the stored value.
func (m *Map) Custom(name string, inheritGlobal, required bool, defaultVal func() (interface{}, error), mapper func(*Map, *Node) (interface{}, error), store interface{}) {
	if m.entries == nil {
		m.entries = make(map[string]matcher)
	}
	if _, ok := m.entries[name]; ok {
		panic("config.Map.Custom: duplicate matcher: " + name)
	}

	var target *reflect.Value
	ptr := reflect.ValueOf(store)
	if ptr.IsValid() && !ptr.IsNil() {
		val := ptr.Elem()
		if !val.CanSet() {
			panic("config.Map.Custom: store argument must be settable (a pointer)")
		}
		target = &val
	}

	m.entries[name] = matcher{
		name:          name,
		inheritGlobal: inheritGlobal,
		required:      required,
		defaultVal:    defaultVal,
		mapper:        mapper,
		store:         target,
	}
}

// Process binds Globals/Block (set by NewMap) into the registered
// variables, returning any directives that matched nothing.
func (m *Map) Process() (unmatched []Node, err error) {
	return m.ProcessWith(m.Globals, m.Block)
}

// ProcessWith binds globalCfg/block into the registered variables.
func (m *Map) ProcessWith(globalCfg map[string]interface{}, block *Node) (unmatched []Node, err error) {
	unmatched = make([]Node, 0, len(block.Children))
	matched := make(map[string]bool)
	m.Values = make(map[string]interface{})

	for _, subnode := range block.Children {
		subnode := subnode
		m.curNode = &subnode

		if matched[subnode.Name] {
			return nil, m.MatchErr("duplicate directive: %s", subnode.Name)
		}

		match, ok := m.entries[subnode.Name]
		if !ok {
			if !m.allowUnknown {
				return nil, m.MatchErr("unexpected directive: %s", subnode.Name)
			}
			unmatched = append(unmatched, subnode)
			continue
		}

		val, err := match.mapper(m, m.curNode)
		if err != nil {
			return nil, err
		}
		m.Values[match.name] = val
		if match.store != nil {
			match.assign(val)
		}
		matched[subnode.Name] = true
	}
	m.curNode = block

	for _, match := range m.entries {
		if matched[match.name] {
			continue
		}

		var val interface{}
		globalVal, ok := globalCfg[match.name]
		switch {
		case match.inheritGlobal && ok:
			val = globalVal
		case !match.required:
			if match.defaultVal == nil {
				continue
			}
			val, err = match.defaultVal()
			if err != nil {
				return nil, err
			}
		default:
			return nil, m.MatchErr("missing required directive: %s", match.name)
		}

		m.Values[match.name] = val
		if match.store != nil {
			match.assign(val)
		}
	}

	return unmatched, nil
}
