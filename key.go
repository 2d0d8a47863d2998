package swrcache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/unkn0wn-root/swrcache/internal/util"
)

// Key identifies one cached resource instance: a kind plus parameters.
// Keys are comparable values and never change after construction; two keys are
// equal iff their kinds and all parameters are equal.
type Key struct {
	kind string
	id   string // canonical form, also used for dedup and storage
}

// Param is one named key parameter. Build with P or SetP.
type Param struct {
	name  string
	value string
}

// P is a scalar parameter rendered with fmt.Sprint.
func P(name string, v any) Param {
	return Param{name: name, value: fmt.Sprint(v)}
}

// SetP is an order-independent set parameter: members are sorted and deduplicated,
// so {todo, done} and {done, todo, done} produce the same key.
func SetP(name string, members ...string) Param {
	return Param{name: name, value: "{" + strings.Join(util.SortedSet(members), ",") + "}"}
}

// NewKey builds a Key. Parameter order does not matter; a later parameter with
// the same name replaces an earlier one.
func NewKey(kind string, params ...Param) Key {
	if len(params) == 0 {
		return Key{kind: kind, id: kind}
	}
	byName := make(map[string]string, len(params))
	for _, p := range params {
		byName[p.name] = p.value
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(kind)
	for i, n := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(n))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(byName[n]))
	}
	return Key{kind: kind, id: b.String()}
}

func (k Key) Kind() string   { return k.kind }
func (k Key) String() string { return k.id }
func (k Key) IsZero() bool   { return k.id == "" }
