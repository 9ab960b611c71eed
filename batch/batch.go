// Package batch reads multi-call script descriptions from YAML or JSON and
// composes them into a script payload.
package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/modcache"
	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// Document describes a script as an ordered list of calls.
type Document struct {
	// SignerCount is the number of transaction signers. Zero means one more
	// than the highest signer index referenced.
	SignerCount uint16 `yaml:"signer_count,omitempty" json:"signer_count,omitempty"`
	// Modules lists extra modules to store before any call is added.
	Modules []string `yaml:"modules,omitempty" json:"modules,omitempty"`
	Calls   []Call   `yaml:"calls" json:"calls"`
}

// Call is one batched function call.
type Call struct {
	Function      string     `yaml:"function" json:"function"`
	TypeArguments []string   `yaml:"type_arguments,omitempty" json:"type_arguments,omitempty"`
	Arguments     Arguments  `yaml:"arguments,omitempty" json:"arguments,omitempty"`
}

// ResultRef points at a value returned by an earlier call.
type ResultRef struct {
	Call  int    `yaml:"call" json:"call"`
	Index int    `yaml:"index" json:"index"`
	Op    string `yaml:"op,omitempty" json:"op,omitempty"`
}

// Argument is a call argument. Exactly one of the fields is set: a plain
// value converted through the function ABI, a signer index, a previous
// result, or hex encoded pre-serialized bytes.
type Argument struct {
	Value  any
	Signer *uint16
	Result *ResultRef
	Bytes  string
}

// Arguments is an ordered argument list. Null entries are kept as
// arguments with a nil Value.
type Arguments []Argument

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Arguments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: arguments must be a list", node.Line)
	}
	out := make(Arguments, len(node.Content))
	for i, child := range node.Content {
		if err := out[i].UnmarshalYAML(child); err != nil {
			return err
		}
	}
	*l = out
	return nil
}

type argumentObject struct {
	Signer *uint16    `yaml:"signer"`
	Result *ResultRef `yaml:"result"`
	Bytes  *string    `yaml:"bytes"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Argument) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		v, err := nodeValue(node)
		if err != nil {
			return err
		}
		a.Value = v
		return nil
	}
	if len(node.Content) != 2 {
		return fmt.Errorf("line %d: argument object must have exactly one of signer, result or bytes", node.Line)
	}
	var obj argumentObject
	if err := decodeStrict(node, &obj); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	switch {
	case obj.Signer != nil:
		a.Signer = obj.Signer
	case obj.Result != nil:
		a.Result = obj.Result
	case obj.Bytes != nil:
		if *obj.Bytes == "" {
			return fmt.Errorf("line %d: bytes must not be empty, use \"0x\" for no bytes", node.Line)
		}
		a.Bytes = *obj.Bytes
	default:
		return fmt.Errorf("line %d: argument object must have exactly one of signer, result or bytes", node.Line)
	}
	return nil
}

// literalStyles mark scalars that are strings whatever they look like.
const literalStyles = yaml.TaggedStyle | yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle |
	yaml.LiteralStyle | yaml.FoldedStyle

// integerLiteral matches plain decimal and hex integers. yaml resolves
// integers beyond 64 bits as floats, so they are matched here first.
var integerLiteral = regexp.MustCompile(`^(?:[-+]?[0-9]+|0[xX][0-9a-fA-F]+)$`)

// nodeValue decodes a plain argument value. Integers are kept as
// json.Number so that u128/u256 literals and hex addresses survive intact.
func nodeValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return nodeValue(node.Alias)
	case yaml.ScalarNode:
		if node.Style&literalStyles == 0 && integerLiteral.MatchString(node.Value) {
			return json.Number(node.Value), nil
		}
		if node.ShortTag() == "!!int" {
			return json.Number(node.Value), nil
		}
	case yaml.SequenceNode:
		out := make([]any, len(node.Content))
		for i, child := range node.Content {
			v, err := nodeValue(child)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Argument) MarshalYAML() (any, error) {
	switch {
	case a.Signer != nil:
		return map[string]uint16{"signer": *a.Signer}, nil
	case a.Result != nil:
		return map[string]*ResultRef{"result": a.Result}, nil
	case a.Bytes != "":
		return map[string]string{"bytes": a.Bytes}, nil
	}
	return a.Value, nil
}

// decodeStrict decodes node into out, rejecting unknown keys.
func decodeStrict(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Parse decodes a YAML or JSON document and validates it.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("batch document is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("multiple YAML documents are not supported")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses a batch file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	return Parse(data)
}

// Validate checks the structure of the document without consulting ABIs.
func (d *Document) Validate() error {
	if len(d.Calls) == 0 {
		return errors.New("batch has no calls")
	}
	for _, id := range d.Modules {
		if _, err := modcache.CanonicalID(id); err != nil {
			return fmt.Errorf("modules: %w", err)
		}
	}
	for i, call := range d.Calls {
		if _, err := moveabi.GetFunctionParts(call.Function); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
		for j, ta := range call.TypeArguments {
			if _, err := movetype.ParseTypeTag(ta, false); err != nil {
				return fmt.Errorf("call %d: type argument %d: %w", i, j, err)
			}
		}
		for j, arg := range call.Arguments {
			if err := arg.validate(i); err != nil {
				return fmt.Errorf("call %d: argument %d: %w", i, j, err)
			}
			if arg.Signer != nil && d.SignerCount != 0 && *arg.Signer >= d.SignerCount {
				return fmt.Errorf("call %d: argument %d: signer %d out of range for %d signers",
					i, j, *arg.Signer, d.SignerCount)
			}
		}
	}
	return nil
}

func (a *Argument) validate(callIndex int) error {
	if a.Signer != nil && *a.Signer == math.MaxUint16 {
		return fmt.Errorf("signer index %d is out of range", *a.Signer)
	}
	if a.Result != nil {
		if a.Result.Call < 0 || a.Result.Call >= callIndex {
			return fmt.Errorf("result refers to call %d, which does not precede call %d", a.Result.Call, callIndex)
		}
		if a.Result.Index < 0 {
			return fmt.Errorf("result index %d is negative", a.Result.Index)
		}
		if _, err := composer.ParseArgumentOperation(a.Result.Op); err != nil {
			return err
		}
	}
	return nil
}

// RequiredSigners returns the signer count the script needs.
func (d *Document) RequiredSigners() uint16 {
	if d.SignerCount != 0 {
		return d.SignerCount
	}
	n := 1
	for _, call := range d.Calls {
		for _, arg := range call.Arguments {
			if arg.Signer != nil && int(*arg.Signer)+1 > n {
				n = int(*arg.Signer) + 1
			}
		}
	}
	return uint16(min(n, math.MaxUint16))
}

// ModuleIDs returns the canonical ids of every module the document needs,
// extra modules first, without duplicates.
func (d *Document) ModuleIDs() ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	add := func(raw string) error {
		id, err := modcache.CanonicalID(raw)
		if err != nil {
			return err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return nil
	}
	for _, m := range d.Modules {
		if err := add(m); err != nil {
			return nil, err
		}
	}
	for i, call := range d.Calls {
		parts, err := moveabi.GetFunctionParts(call.Function)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		if err := add(parts.ModuleID()); err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
	}
	return ids, nil
}
